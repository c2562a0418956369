package rpc

import (
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

func TestClient_Discover(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	var subscribed map[string]any

	server := newTestServer(t, func(conn *websocket.Conn) {
		for {
			var req inboundReq
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			mu.Lock()
			methods = append(methods, req.Method)
			mu.Unlock()

			var result any
			switch req.Method {
			case "server.connection.identify":
				var params struct {
					ClientName string `json:"client_name"`
					Type       string `json:"type"`
					UUID       string `json:"uuid"`
				}
				json.Unmarshal(req.Params, &params)
				if params.ClientName != "moonbridge" || params.Type != "agent" || params.UUID == "" {
					conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID,
						"error": map[string]any{"code": -32602, "message": "Invalid params"}})
					continue
				}
				result = map[string]any{"connection_id": 1}
			case "printer.objects.list":
				result = map[string]any{"objects": []string{"webhooks", "extruder", "heater_bed"}}
			case "server.info":
				result = map[string]any{"klippy_connected": true}
			case "printer.info":
				result = map[string]any{"state": "ready"}
			case "printer.objects.subscribe":
				var params struct {
					Objects map[string]any `json:"objects"`
				}
				json.Unmarshal(req.Params, &params)
				mu.Lock()
				subscribed = params.Objects
				mu.Unlock()
				result = map[string]any{"status": map[string]any{}}
			default:
				t.Errorf("unexpected method %s", req.Method)
				result = map[string]any{}
			}
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
		}
	})
	defer server.Close()

	c := NewClient(testConfig(), nil)
	defer c.Close()
	if err := c.Connect(wsURL(server), nil, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan *DiscoveryResult, 1)
	c.Discover("moonbridge", "1.0.0", func(res *DiscoveryResult) { done <- res }, func(err *RPCError) {
		t.Errorf("discovery failed: %v", err)
		done <- nil
	})

	var res *DiscoveryResult
	select {
	case res = <-done:
	case <-timeoutChan():
		t.Fatal("discovery did not complete")
	}
	if res == nil {
		t.FailNow()
	}

	wantObjects := []string{"extruder", "heater_bed", "webhooks"}
	gotObjects := append([]string(nil), res.Objects...)
	sort.Strings(gotObjects)
	if len(gotObjects) != 3 || gotObjects[0] != wantObjects[0] || gotObjects[1] != wantObjects[1] || gotObjects[2] != wantObjects[2] {
		t.Errorf("objects = %v", res.Objects)
	}
	if len(res.ServerInfo) == 0 || len(res.PrinterInfo) == 0 {
		t.Error("server or printer info not captured")
	}

	mu.Lock()
	defer mu.Unlock()
	wantOrder := []string{
		"server.connection.identify",
		"printer.objects.list",
		"server.info",
		"printer.info",
		"printer.objects.subscribe",
	}
	if len(methods) != len(wantOrder) {
		t.Fatalf("daemon saw %d requests: %v", len(methods), methods)
	}
	for i, m := range wantOrder {
		if methods[i] != m {
			t.Errorf("request %d = %s, want %s", i, methods[i], m)
		}
	}
	if len(subscribed) != 3 {
		t.Errorf("subscription covered %d objects, want 3", len(subscribed))
	}
}

func TestClient_DiscoverAbortsOnFailure(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		for {
			var req inboundReq
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == "printer.objects.list" {
				conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID,
					"error": map[string]any{"code": -32000, "message": "Klippy host not ready"}})
				continue
			}
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{}})
		}
	})
	defer server.Close()

	c := NewClient(testConfig(), nil)
	defer c.Close()
	if err := c.Connect(wsURL(server), nil, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	failed := make(chan *RPCError, 1)
	c.Discover("moonbridge", "1.0.0", func(*DiscoveryResult) {
		t.Error("discovery completed despite stage failure")
	}, func(err *RPCError) { failed <- err })

	select {
	case err := <-failed:
		if err.Type != ErrNotReady {
			t.Errorf("error type = %s, want not_ready", err.Type)
		}
		if err.Method != "printer.objects.list" {
			t.Errorf("failing method = %s", err.Method)
		}
	case <-timeoutChan():
		t.Fatal("discovery error continuation never fired")
	}
}
