package gateway

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MethodHandler handles one method call on one connection. Returning
// ErrResponded tells the dispatcher the handler already wrote its own
// response frame.
type MethodHandler func(c *Conn, req *Request) (interface{}, error)

// ErrResponded is the sentinel a handler returns after writing its
// response itself, used by methods that must respond before starting
// asynchronous work.
var ErrResponded = fmt.Errorf("response already written")

// MethodRegistry maps method names to handlers.
type MethodRegistry struct {
	mu      sync.RWMutex
	methods map[string]MethodHandler
}

// NewMethodRegistry creates an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{methods: make(map[string]MethodHandler)}
}

// Register adds a method handler, replacing any existing one.
func (r *MethodRegistry) Register(name string, handler MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = handler
}

// Call dispatches one request to its handler.
func (r *MethodRegistry) Call(c *Conn, req *Request) (interface{}, error) {
	r.mu.RLock()
	handler, ok := r.methods[req.Method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
	return handler(c, req)
}

// Methods lists the registered method names, sorted.
func (r *MethodRegistry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeParams unmarshals request params into a typed struct. Missing
// params decode as the zero value.
func decodeParams(req *Request, v interface{}) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("invalid params for %s: %w", req.Method, err)
	}
	return nil
}
