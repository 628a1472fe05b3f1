package memory

import mcpwire "github.com/tildeworks/go-mcpwire"

type createEntitiesArgs struct {
	Entities []Entity `json:"entities"`
}

type createRelationsArgs struct {
	Relations []Relation `json:"relations"`
}

type addObservationsArgs struct {
	Observations []observation `json:"observations"`
}

type deleteEntitiesArgs struct {
	EntityNames []string `json:"entityNames"`
}

type deleteObservationsArgs struct {
	Deletions []observation `json:"deletions"`
}

type deleteRelationsArgs struct {
	Relations []Relation `json:"relations"`
}

type searchNodesArgs struct {
	Query string `json:"query"`
}

type openNodesArgs struct {
	Names []string `json:"names"`
}

var relationSchema = `
        {
          "type": "object",
          "properties": {
            "from": {
              "type": "string"
            },
            "to": {
              "type": "string"
            },
            "relationType": {
              "type": "string"
            }
          },
          "required": ["from", "to", "relationType"]
        }
`

var createEntitiesTool = mcpwire.Tool{
	Name:        "create_entities",
	Description: "Create new entities in the knowledge graph. Existing names are skipped.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "entities": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "name": {
              "type": "string"
            },
            "entityType": {
              "type": "string"
            },
            "observations": {
              "type": "array",
              "items": {
                "type": "string"
              }
            }
          },
          "required": ["name", "entityType"]
        }
      }
    },
    "required": ["entities"]
  }
`),
}

var createRelationsTool = mcpwire.Tool{
	Name:        "create_relations",
	Description: "Create typed relations between entities. Duplicates are skipped.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "relations": {
        "type": "array",
        "items": ` + relationSchema + `
      }
    },
    "required": ["relations"]
  }
`),
}

var addObservationsTool = mcpwire.Tool{
	Name:        "add_observations",
	Description: "Add observations to existing entities. Fails if an entity is unknown.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "observations": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "entityName": {
              "type": "string"
            },
            "contents": {
              "type": "array",
              "items": {
                "type": "string"
              }
            }
          },
          "required": ["entityName", "contents"]
        }
      }
    },
    "required": ["observations"]
  }
`),
}

var deleteEntitiesTool = mcpwire.Tool{
	Name:        "delete_entities",
	Description: "Delete entities and every relation touching them.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "entityNames": {
        "type": "array",
        "items": {
          "type": "string"
        }
      }
    },
    "required": ["entityNames"]
  }
`),
}

var deleteObservationsTool = mcpwire.Tool{
	Name:        "delete_observations",
	Description: "Delete specific observations from entities.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "deletions": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "entityName": {
              "type": "string"
            },
            "observations": {
              "type": "array",
              "items": {
                "type": "string"
              }
            }
          },
          "required": ["entityName", "observations"]
        }
      }
    },
    "required": ["deletions"]
  }
`),
}

var deleteRelationsTool = mcpwire.Tool{
	Name:        "delete_relations",
	Description: "Delete specific relations from the graph.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "relations": {
        "type": "array",
        "items": ` + relationSchema + `
      }
    },
    "required": ["relations"]
  }
`),
}

var readGraphTool = mcpwire.Tool{
	Name:        "read_graph",
	Description: "Read the entire knowledge graph.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {}
  }
`),
}

var searchNodesTool = mcpwire.Tool{
	Name: "search_nodes",
	Description: "Search entities whose name, type or observations contain a query, " +
		"case-insensitively, with the relations connecting the matches.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "query": {
        "type": "string"
      }
    },
    "required": ["query"]
  }
`),
}

var openNodesTool = mcpwire.Tool{
	Name:        "open_nodes",
	Description: "Retrieve specific entities by name, with the relations connecting them.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "names": {
        "type": "array",
        "items": {
          "type": "string"
        }
      }
    },
    "required": ["names"]
  }
`),
}
