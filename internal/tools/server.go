package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/CLIAIMONITOR/internal/apierr"
)

// request is one JSON-RPC request line (spec.md §6 / SPEC_FULL.md §5.7).
// Adapted from the teacher's types.MCPRequest shape, but read over stdio
// one line per request instead of over SSE/WebSocket.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is one JSON-RPC response line, mirroring the teacher's
// types.MCPResponse shape.
type response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Server reads line-delimited JSON-RPC requests from r and writes responses
// to w, one JSON object per line. It implements initialize, tools/list, and
// tools/call.
type Server struct {
	registry *Registry
	logger   *log.Logger
}

// NewServer constructs a Server around registry. If logger is nil, a
// discard logger is used.
func NewServer(registry *Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{registry: registry, logger: logger}
}

// Serve runs the read-dispatch-write loop until r is exhausted or returns a
// non-EOF error.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(w)
	defer out.Flush()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(line)
		if resp == nil {
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Printf("tools: marshal response: %v", err)
			continue
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		out.WriteByte('\n')
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(line []byte) *response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return &response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error: " + err.Error()}}
	}

	resp := &response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": "zshtool", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}

	case "tools/list":
		resp.Result = map[string]any{"tools": s.registry.List()}

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
			break
		}
		text, err := s.registry.Execute(params.Name, params.Arguments)
		if err != nil {
			resp.Error = &rpcError{Code: rpcCodeFor(err), Message: err.Error()}
			break
		}
		resp.Result = map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		}

	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	return resp
}

// rpcCodeFor maps an apierr.Kind onto a JSON-RPC-ish error code so clients
// can distinguish validation failures from transient circuit-open failures
// without parsing the message text.
func rpcCodeFor(err error) int {
	switch apierr.KindOf(err) {
	case apierr.KindValidation:
		return -32602
	case apierr.KindCircuitOpen:
		return -32001
	case apierr.KindUnknownTask:
		return -32002
	case apierr.KindNotRunning:
		return -32003
	case apierr.KindStoreUnavailable:
		return -32004
	default:
		return -32000
	}
}
