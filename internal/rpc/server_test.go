package rpc

import (
	"context"
	"encoding/json"
	"testing"
)

// fakeService is a minimal Service for transport tests.
type fakeService struct {
	calls []string
}

func (f *fakeService) Initialize(_ context.Context) (any, error) {
	return map[string]string{"protocolVersion": "test"}, nil
}

func (f *fakeService) ListTools(_ context.Context) (any, error) {
	return map[string]any{"tools": []any{}}, nil
}

func (f *fakeService) CallTool(_ context.Context, name string, args map[string]any) (any, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "demo.hello":
		who, _ := args["name"].(string)
		if who == "" {
			who = "World"
		}
		return "Hello, " + who + "!", nil
	case "demo.bad":
		return nil, Errorf(CodeInvalidParams, "unknown command")
	default:
		return nil, Errorf(CodeInternalError, "%s: boom", name)
	}
}

func handle(t *testing.T, s *Server, line string) *Response {
	t.Helper()
	return s.Handle(context.Background(), []byte(line))
}

func TestHandleParseError(t *testing.T) {
	s := NewServer(&fakeService{}, nil)

	resp := handle(t, s, `{not json`)
	if resp == nil {
		t.Fatal("malformed input must produce a response")
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("error = %+v, want ParseError", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Errorf("id = %s, want null", resp.ID)
	}
}

func TestHandleNotificationIsSilent(t *testing.T) {
	s := NewServer(&fakeService{}, nil)

	resp := handle(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp != nil {
		t.Errorf("notification must produce no response, got %+v", resp)
	}
}

func TestHandleMissingIDIsInvalidRequest(t *testing.T) {
	s := NewServer(&fakeService{}, nil)

	for _, line := range []string{
		`{"jsonrpc":"2.0","method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":null,"method":"tools/list"}`,
	} {
		resp := handle(t, s, line)
		if resp == nil {
			t.Fatalf("non-notification without id must get a response: %s", line)
		}
		if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
			t.Errorf("error = %+v, want InvalidRequest", resp.Error)
		}
		if string(resp.ID) != "null" {
			t.Errorf("id = %s, want null", resp.ID)
		}
	}
}

func TestHandleMethodNotFound(t *testing.T) {
	s := NewServer(&fakeService{}, nil)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error = %+v, want MethodNotFound", resp.Error)
	}
}

func TestHandleEchoesNumericAndStringIDs(t *testing.T) {
	s := NewServer(&fakeService{}, nil)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":42,"method":"ping"}`)
	if string(resp.ID) != "42" {
		t.Errorf("numeric id = %s, want 42", resp.ID)
	}

	resp = handle(t, s, `{"jsonrpc":"2.0","id":"abc","method":"ping"}`)
	if string(resp.ID) != `"abc"` {
		t.Errorf("string id = %s, want \"abc\"", resp.ID)
	}
}

func TestHandleCallTool(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(svc, nil)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"demo.hello","arguments":{"name":"Go"}}}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "Hello, Go!" {
		t.Errorf("result = %v", resp.Result)
	}
	if len(svc.calls) != 1 || svc.calls[0] != "demo.hello" {
		t.Errorf("calls = %v", svc.calls)
	}
}

func TestHandleCallToolMissingName(t *testing.T) {
	s := NewServer(&fakeService{}, nil)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("error = %+v, want InvalidParams", resp.Error)
	}
}

func TestHandleServiceErrorCodesPassThrough(t *testing.T) {
	s := NewServer(&fakeService{}, nil)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"demo.bad"}}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("error = %+v, want the service's InvalidParams", resp.Error)
	}

	resp = handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"demo.crash"}}`)
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("error = %+v, want InternalError", resp.Error)
	}
}

func TestResponseSerializesExactlyOneOutcome(t *testing.T) {
	ok := result(json.RawMessage("1"), "fine")
	data, err := json.Marshal(ok)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, has := m["error"]; has {
		t.Error("success response must omit error")
	}

	bad := failure(json.RawMessage("1"), Errorf(CodeInternalError, "x"))
	data, err = json.Marshal(bad)
	if err != nil {
		t.Fatal(err)
	}
	m = nil
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, has := m["result"]; has {
		t.Error("error response must omit result")
	}
}
