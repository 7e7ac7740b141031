// Package openapi describes the gateway's routes as an OpenAPI 3.1 document.
package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Operation is one documented route.
type Operation struct {
	Method      string
	Path        string
	Summary     string
	Tags        []string
	Permission  string // empty for public routes
	RequestBody map[string]any
	Responses   map[string]any
}

// Registry collects operations as routes are mounted.
type Registry struct {
	mu  sync.Mutex
	ops []Operation
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(op Operation) {
	op.Method = strings.ToLower(op.Method)
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func problemRef() map[string]any {
	return map[string]any{
		"description": "Error",
		"content": map[string]any{
			"application/problem+json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/Problem"}},
		},
	}
}

// Build returns the document. Every operation gets the shared problem response as default.
func (r *Registry) Build(serviceName, version string) map[string]any {
	r.mu.Lock()
	ops := append([]Operation(nil), r.ops...)
	r.mu.Unlock()
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })

	paths := map[string]any{}
	for _, op := range ops {
		item, ok := paths[op.Path].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[op.Path] = item
		}
		responses := map[string]any{"default": problemRef()}
		for code, v := range op.Responses {
			responses[code] = v
		}
		if len(op.Responses) == 0 {
			responses["200"] = map[string]any{"description": "OK"}
		}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": responses,
		}
		if op.Permission != "" {
			m["x-required-permission"] = op.Permission
			m["security"] = []map[string]any{{"bearer": []string{}}, {"apiKey": []string{}}}
		} else {
			m["security"] = []map[string]any{}
		}
		if op.RequestBody != nil {
			m["requestBody"] = map[string]any{
				"required": true,
				"content":  map[string]any{"application/json": map[string]any{"schema": op.RequestBody}},
			}
		}
		item[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
				"apiKey": map[string]any{"type": "http", "scheme": "bearer", "description": "An issued API key sent as a bearer value"},
			},
			"schemas": map[string]any{
				"Problem": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":   map[string]any{"type": "string"},
						"title":  map[string]any{"type": "string"},
						"status": map[string]any{"type": "integer"},
						"code":   map[string]any{"type": "string"},
						"detail": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// ServeHandler serves the built document as JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
