package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Registry of the operations a service exposes, with the permission the
// access-control chain checks for each. Routers register as they mount.

// Permission is the (resource, action) pair checked before a handler runs.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Public      bool           `json:"-"`
	Portals     []string       `json:"x-portals,omitempty"`
	Permission  *Permission    `json:"x-required-permission,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses,omitempty"`
}

type Registry struct {
	mu  sync.RWMutex
	ops []Operation
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(op Operation) {
	op.Method = strings.ToLower(op.Method)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ops {
		if r.ops[i].Method == op.Method && r.ops[i].Path == op.Path {
			r.ops[i] = op
			return
		}
	}
	r.ops = append(r.ops, op)
}

// Operations returns a copy sorted by path and method.
func (r *Registry) Operations() []Operation {
	r.mu.RLock()
	out := append([]Operation(nil), r.ops...)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Lookup finds the operation registered for method and route pattern.
func (r *Registry) Lookup(method, path string) (Operation, bool) {
	method = strings.ToLower(method)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, op := range r.ops {
		if op.Method == method && op.Path == path {
			return op, true
		}
	}
	return Operation{}, false
}

// Build produces a minimal OpenAPI 3.1 document for the registered
// operations.
func (r *Registry) Build(serviceName, version string) map[string]any {
	paths := map[string]any{}
	for _, op := range r.Operations() {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		responses := op.Responses
		if responses == nil {
			responses = map[string]any{"200": map[string]any{"description": "OK"}}
		}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": responses,
		}
		if op.Public {
			m["security"] = []map[string]any{}
		}
		if len(op.Portals) > 0 {
			m["x-portals"] = op.Portals
		}
		if op.Permission != nil {
			m["x-required-permission"] = op.Permission
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
				"cookieAuth": map[string]any{"type": "apiKey", "in": "cookie", "name": "accessToken"},
			},
		},
		"security": []map[string]any{{"bearerAuth": []string{}}, {"cookieAuth": []string{}}},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
