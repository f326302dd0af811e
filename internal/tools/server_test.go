package tools

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(ToolDefinition{Name: "echo", Description: "echoes text"}, func(raw json.RawMessage) (string, error) {
		var args struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(raw, &args)
		return args.Text, nil
	})
	return r
}

func TestServeInitialize(t *testing.T) {
	s := NewServer(newTestRegistry(), nil)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestServeToolsList(t *testing.T) {
	s := NewServer(newTestRegistry(), nil)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if !strings.Contains(out.String(), `"echo"`) {
		t.Errorf("tools/list response missing registered tool: %s", out.String())
	}
}

func TestServeToolsCall(t *testing.T) {
	s := NewServer(newTestRegistry(), nil)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if !strings.Contains(out.String(), `"hi"`) {
		t.Errorf("tools/call response missing echoed text: %s", out.String())
	}
}

func TestServeUnknownMethod(t *testing.T) {
	s := NewServer(newTestRegistry(), nil)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":4,"method":"bogus"}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestServeToolsCallUnknownTool(t *testing.T) {
	s := NewServer(newTestRegistry(), nil)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope","arguments":{}}}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error for unknown tool")
	}
}
