package gateway

import (
	"encoding/json"
	"testing"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewMethodRegistry()
	r.Register("ping", func(c *Conn, req *Request) (interface{}, error) {
		return map[string]string{"pong": req.ID}, nil
	})

	payload, err := r.Call(nil, &Request{Type: FrameRequest, ID: "7", Method: "ping"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if payload.(map[string]string)["pong"] != "7" {
		t.Fatalf("payload = %v", payload)
	}

	if _, err := r.Call(nil, &Request{Method: "nope"}); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestRegistryMethodsSorted(t *testing.T) {
	r := NewMethodRegistry()
	r.Register("b", nil)
	r.Register("a", nil)
	r.Register("c", nil)

	names := r.Methods()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("Methods() = %v", names)
	}
}

func TestDecodeParams(t *testing.T) {
	var req SendRequest
	raw := json.RawMessage(`{"sessionKey":"k1","message":"hi","timeoutMs":2500}`)
	if err := decodeParams(&Request{Method: "chat.send", Params: raw}, &req); err != nil {
		t.Fatalf("decodeParams: %v", err)
	}
	if req.SessionKey != "k1" || req.Message != "hi" || req.TimeoutMs != 2500 {
		t.Fatalf("decoded = %+v", req)
	}

	var empty SendRequest
	if err := decodeParams(&Request{Method: "chat.send"}, &empty); err != nil {
		t.Fatalf("empty params: %v", err)
	}
	if empty.SessionKey != "" {
		t.Fatalf("empty params decoded to %+v", empty)
	}

	if err := decodeParams(&Request{Method: "chat.send", Params: json.RawMessage(`{bad`)}, &req); err == nil {
		t.Fatal("expected error for malformed params")
	}
}
