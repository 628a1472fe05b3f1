package mcpwire_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	mcpwire "github.com/tildeworks/go-mcpwire"
)

// pipedTransports wires a server and a client transport together over
// in-memory pipes.
func pipedTransports() (*mcpwire.StdIO, *mcpwire.StdIO) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	serverTransport := mcpwire.NewStdIO(serverReader, serverWriter)
	clientTransport := mcpwire.NewStdIO(clientReader, clientWriter)

	return serverTransport, clientTransport
}

func firstSession(t *testing.T, transport *mcpwire.StdIO) mcpwire.Session {
	t.Helper()

	var sess mcpwire.Session
	for s := range transport.Sessions() {
		sess = s
		break
	}
	if sess == nil {
		t.Fatal("no session yielded")
	}
	return sess
}

func TestStdIOBidirectionalMessageFlow(t *testing.T) {
	serverTransport, clientTransport := pipedTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientSession, err := clientTransport.StartSession(ctx)
	if err != nil {
		t.Fatalf("failed to start client session: %v", err)
	}
	serverSession := firstSession(t, serverTransport)

	testMessages := []mcpwire.Message{
		{
			JSONRPC: mcpwire.JSONRPCVersion,
			Method:  "request1",
			Params:  json.RawMessage(`{"data": "first request"}`),
		},
		{
			JSONRPC: mcpwire.JSONRPCVersion,
			Method:  "request2",
			Params:  json.RawMessage(`{"data": "second request"}`),
		},
	}

	var clientReceived, serverReceived []mcpwire.Message

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for msg := range clientSession.Messages() {
			clientReceived = append(clientReceived, msg)
			if len(clientReceived) == len(testMessages) {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for msg := range serverSession.Messages() {
			serverReceived = append(serverReceived, msg)
			if len(serverReceived) == len(testMessages) {
				return
			}
		}
	}()

	for _, msg := range testMessages {
		if err := serverSession.Send(ctx, msg); err != nil {
			t.Fatalf("failed to send server message: %v", err)
		}

		reply := mcpwire.Message{
			JSONRPC: mcpwire.JSONRPCVersion,
			Method:  "response_" + msg.Method,
			Params:  json.RawMessage(`{"received": "` + msg.Method + `"}`),
		}
		if err := clientSession.Send(ctx, reply); err != nil {
			t.Fatalf("failed to send client message: %v", err)
		}
	}

	wg.Wait()

	if len(clientReceived) != len(testMessages) {
		t.Fatalf("client received %d messages, want %d", len(clientReceived), len(testMessages))
	}
	if len(serverReceived) != len(testMessages) {
		t.Fatalf("server received %d messages, want %d", len(serverReceived), len(testMessages))
	}
	for i, msg := range testMessages {
		if clientReceived[i].Method != msg.Method {
			t.Errorf("client received %s, want %s", clientReceived[i].Method, msg.Method)
		}
		if serverReceived[i].Method != "response_"+msg.Method {
			t.Errorf("server received %s, want response_%s", serverReceived[i].Method, msg.Method)
		}
	}
}

func TestStdIOSkipsMalformedFrames(t *testing.T) {
	serverReader, clientWriter := io.Pipe()
	serverTransport := mcpwire.NewStdIO(serverReader, io.Discard)

	serverSession := firstSession(t, serverTransport)

	received := make(chan mcpwire.Message, 2)
	go func() {
		for msg := range serverSession.Messages() {
			received <- msg
		}
	}()

	frames := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"first"}`,
		`this is not JSON`,
		`{"jsonrpc":"1.0","method":"wrong version"}`,
		`{"jsonrpc":"2.0","method":"second"}`,
	}, "\n") + "\n"

	go func() {
		_, _ = clientWriter.Write([]byte(frames))
	}()

	for _, want := range []string{"first", "second"} {
		select {
		case msg := <-received:
			if msg.Method != want {
				t.Errorf("received %s, want %s", msg.Method, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestStdIOStopIsIdempotent(t *testing.T) {
	serverTransport, clientTransport := pipedTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientSession, err := clientTransport.StartSession(ctx)
	if err != nil {
		t.Fatalf("failed to start client session: %v", err)
	}
	serverSession := firstSession(t, serverTransport)

	// Drain so the read loops notice closure.
	go func() {
		for range serverSession.Messages() {
		}
	}()
	go func() {
		for range clientSession.Messages() {
		}
	}()

	clientSession.Stop()
	clientSession.Stop()
	serverSession.Stop()
	serverSession.Stop()
}

func TestStdIOLargeMessagePayload(t *testing.T) {
	payloadSizes := []int{
		1 * 1024,
		100 * 1024,
		1 * 1024 * 1024,
	}

	for _, size := range payloadSizes {
		t.Run(fmt.Sprintf("PayloadSize_%d", size), func(t *testing.T) {
			serverTransport, clientTransport := pipedTransports()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			clientSession, err := clientTransport.StartSession(ctx)
			if err != nil {
				t.Fatalf("failed to start client session: %v", err)
			}
			serverSession := firstSession(t, serverTransport)

			payload, err := json.Marshal(map[string]string{
				"data": strings.Repeat("x", size),
			})
			if err != nil {
				t.Fatal(err)
			}
			largeMsg := mcpwire.Message{
				JSONRPC: mcpwire.JSONRPCVersion,
				Method:  "largePayload",
				Params:  payload,
			}

			received := make(chan mcpwire.Message, 1)
			go func() {
				for msg := range clientSession.Messages() {
					received <- msg
					return
				}
			}()

			if err := serverSession.Send(ctx, largeMsg); err != nil {
				t.Fatalf("failed to send large message: %v", err)
			}

			select {
			case msg := <-received:
				if msg.Method != largeMsg.Method {
					t.Errorf("received method %s, want %s", msg.Method, largeMsg.Method)
				}
				if len(msg.Params) != len(payload) {
					t.Errorf("received %d param bytes, want %d", len(msg.Params), len(payload))
				}
			case <-time.After(10 * time.Second):
				t.Fatalf("timeout waiting for large message of size %d", size)
			}
		})
	}
}
