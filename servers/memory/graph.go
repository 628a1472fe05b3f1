package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Entity is a named node in the knowledge graph carrying free-form
// observations.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations,omitempty"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// Graph is a snapshot of the knowledge base.
type Graph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

type observation struct {
	EntityName   string   `json:"entityName"`
	Contents     []string `json:"contents,omitempty"`
	Observations []string `json:"observations,omitempty"`
}

// store persists the graph as a JSON file. All mutations take the lock,
// since tool calls may run concurrently.
type store struct {
	path string
	mu   sync.Mutex
}

func (s *store) load() (Graph, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Graph{Entities: []Entity{}, Relations: []Relation{}}, nil
		}
		return Graph{}, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, fmt.Errorf("failed to unmarshal %s: %w", s.path, err)
	}
	if g.Entities == nil {
		g.Entities = []Entity{}
	}
	if g.Relations == nil {
		g.Relations = []Relation{}
	}
	return g, nil
}

func (s *store) save(g Graph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

func (s *store) createEntities(entities []Entity) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(g.Entities))
	for _, e := range g.Entities {
		existing[e.Name] = true
	}

	created := []Entity{}
	for _, e := range entities {
		if existing[e.Name] {
			continue
		}
		existing[e.Name] = true
		created = append(created, e)
		g.Entities = append(g.Entities, e)
	}

	if err := s.save(g); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *store) createRelations(relations []Relation) ([]Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return nil, err
	}

	existing := make(map[Relation]bool, len(g.Relations))
	for _, r := range g.Relations {
		existing[r] = true
	}

	created := []Relation{}
	for _, r := range relations {
		if existing[r] {
			continue
		}
		existing[r] = true
		created = append(created, r)
		g.Relations = append(g.Relations, r)
	}

	if err := s.save(g); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *store) addObservations(observations []observation) ([]observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return nil, err
	}

	added := []observation{}
	for _, obs := range observations {
		idx := -1
		for i, e := range g.Entities {
			if e.Name == obs.EntityName {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, fmt.Errorf("entity with name %s not found", obs.EntityName)
		}

		seen := make(map[string]bool, len(g.Entities[idx].Observations))
		for _, o := range g.Entities[idx].Observations {
			seen[o] = true
		}

		var fresh []string
		for _, content := range obs.Contents {
			if seen[content] {
				continue
			}
			seen[content] = true
			fresh = append(fresh, content)
			g.Entities[idx].Observations = append(g.Entities[idx].Observations, content)
		}
		added = append(added, observation{EntityName: obs.EntityName, Contents: fresh})
	}

	if err := s.save(g); err != nil {
		return nil, err
	}
	return added, nil
}

func (s *store) deleteEntities(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return err
	}

	doomed := make(map[string]bool, len(names))
	for _, name := range names {
		doomed[name] = true
	}

	entities := g.Entities[:0]
	for _, e := range g.Entities {
		if !doomed[e.Name] {
			entities = append(entities, e)
		}
	}
	g.Entities = entities

	// Relations touching a deleted entity go with it.
	relations := g.Relations[:0]
	for _, r := range g.Relations {
		if !doomed[r.From] && !doomed[r.To] {
			relations = append(relations, r)
		}
	}
	g.Relations = relations

	return s.save(g)
}

func (s *store) deleteObservations(deletions []observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return err
	}

	for _, del := range deletions {
		for i, e := range g.Entities {
			if e.Name != del.EntityName {
				continue
			}

			doomed := make(map[string]bool, len(del.Observations))
			for _, o := range del.Observations {
				doomed[o] = true
			}

			kept := e.Observations[:0]
			for _, o := range e.Observations {
				if !doomed[o] {
					kept = append(kept, o)
				}
			}
			g.Entities[i].Observations = kept
			break
		}
	}

	return s.save(g)
}

func (s *store) deleteRelations(relations []Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return err
	}

	doomed := make(map[Relation]bool, len(relations))
	for _, r := range relations {
		doomed[r] = true
	}

	kept := g.Relations[:0]
	for _, r := range g.Relations {
		if !doomed[r] {
			kept = append(kept, r)
		}
	}
	g.Relations = kept

	return s.save(g)
}

func (s *store) readGraph() (Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// searchNodes returns the entities whose name, type or observations contain
// query, case-insensitively, plus the relations connecting them.
func (s *store) searchNodes(query string) (Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return Graph{}, err
	}

	needle := strings.ToLower(query)
	matched := []Entity{}
	for _, e := range g.Entities {
		if entityMatches(e, needle) {
			matched = append(matched, e)
		}
	}

	return subgraph(matched, g.Relations), nil
}

func (s *store) openNodes(names []string) (Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.load()
	if err != nil {
		return Graph{}, err
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	matched := []Entity{}
	for _, e := range g.Entities {
		if wanted[e.Name] {
			matched = append(matched, e)
		}
	}

	return subgraph(matched, g.Relations), nil
}

func entityMatches(e Entity, needle string) bool {
	if strings.Contains(strings.ToLower(e.Name), needle) ||
		strings.Contains(strings.ToLower(e.EntityType), needle) {
		return true
	}
	for _, o := range e.Observations {
		if strings.Contains(strings.ToLower(o), needle) {
			return true
		}
	}
	return false
}

// subgraph keeps only the relations whose both endpoints are in entities.
func subgraph(entities []Entity, relations []Relation) Graph {
	names := make(map[string]bool, len(entities))
	for _, e := range entities {
		names[e.Name] = true
	}

	kept := []Relation{}
	for _, r := range relations {
		if names[r.From] && names[r.To] {
			kept = append(kept, r)
		}
	}

	return Graph{Entities: entities, Relations: kept}
}
