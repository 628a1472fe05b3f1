package mcpwire_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpwire "github.com/tildeworks/go-mcpwire"
)

// startSSEPair brings up an SSE server transport behind httptest and returns
// it with a client transport pointed at it.
func startSSEPair(t *testing.T) (*mcpwire.SSEServer, *mcpwire.SSEClient) {
	t.Helper()

	mux := http.NewServeMux()
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)

	serverTransport := mcpwire.NewSSEServer(httpSrv.URL + "/message")
	mux.Handle("/sse", serverTransport.HandleSSE())
	mux.Handle("/message", serverTransport.HandleMessage())

	clientTransport := mcpwire.NewSSEClient(httpSrv.URL+"/sse", httpSrv.Client())

	return serverTransport, clientTransport
}

func TestSSEBidirectionalMessageFlow(t *testing.T) {
	serverTransport, clientTransport := startSSEPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverSessions := make(chan mcpwire.Session, 1)
	go func() {
		for sess := range serverTransport.Sessions() {
			serverSessions <- sess
		}
	}()

	clientSession, err := clientTransport.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer clientSession.Stop()

	var serverSession mcpwire.Session
	select {
	case serverSession = <-serverSessions:
	case <-time.After(5 * time.Second):
		t.Fatal("server session never arrived")
	}

	serverReceived := make(chan mcpwire.Message, 1)
	go func() {
		for msg := range serverSession.Messages() {
			serverReceived <- msg
		}
	}()
	clientReceived := make(chan mcpwire.Message, 1)
	go func() {
		for msg := range clientSession.Messages() {
			clientReceived <- msg
		}
	}()

	// Client to server over POST.
	if err := clientSession.Send(ctx, mcpwire.Message{
		JSONRPC: mcpwire.JSONRPCVersion,
		ID:      "1",
		Method:  "ping",
	}); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	select {
	case msg := <-serverReceived:
		if msg.Method != "ping" {
			t.Errorf("server received %s, want ping", msg.Method)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the message")
	}

	// Server to client over the event stream.
	if err := serverSession.Send(ctx, mcpwire.Message{
		JSONRPC: mcpwire.JSONRPCVersion,
		ID:      "1",
		Result:  json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	select {
	case msg := <-clientReceived:
		if msg.ID != "1" || msg.Result == nil {
			t.Errorf("client received %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client never received the response")
	}

	sCtx, sCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sCancel()
	serverSession.Stop()
	if err := serverTransport.Shutdown(sCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSSEMessageEndpointValidation(t *testing.T) {
	mux := http.NewServeMux()
	httpSrv := httptest.NewServer(mux)
	defer httpSrv.Close()

	serverTransport := mcpwire.NewSSEServer(httpSrv.URL + "/message")
	mux.Handle("/message", serverTransport.HandleMessage())

	tests := []struct {
		name string
		url  string
		body string
		want int
	}{
		{
			name: "missing session id",
			url:  httpSrv.URL + "/message",
			body: `{"jsonrpc":"2.0","method":"ping"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "malformed frame",
			url:  httpSrv.URL + "/message?sessionID=abc",
			body: `not json`,
			want: http.StatusBadRequest,
		},
		{
			name: "wrong jsonrpc version",
			url:  httpSrv.URL + "/message?sessionID=abc",
			body: `{"jsonrpc":"1.0","method":"ping"}`,
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(tt.url, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestClientServerOverSSE(t *testing.T) {
	serverTransport, clientTransport := startSSEPair(t)

	reg := mcpwire.NewRegistry()
	tool, handler := echoTool()
	if err := reg.AddTool(tool, handler); err != nil {
		t.Fatal(err)
	}

	server := mcpwire.NewServer(
		mcpwire.Info{Name: "sse-server", Version: "1.0.0"},
		reg,
		serverTransport,
	)
	go func() {
		if err := server.Serve(); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()

	client := mcpwire.NewClient(
		mcpwire.Info{Name: "sse-client", Version: "1.0.0"},
		clientTransport,
		mcpwire.WithClientCallTimeout(5*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res, err := client.CallTool(ctx, mcpwire.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"over sse"}`),
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Content[0].Text != "over sse" {
		t.Errorf("echoed %q", res.Content[0].Text)
	}

	client.Close()
	sCtx, sCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sCancel()
	if err := server.Shutdown(sCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
