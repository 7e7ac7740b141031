package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"wpmcp/internal/resolver"
	"wpmcp/pkg/middleware"
	"wpmcp/pkg/problems"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return problems.New(problems.ValidationFailed, "request body is required")
		}
		return problems.Newf(problems.ValidationFailed, "invalid JSON: %v", err)
	}
	return nil
}

// fail writes err, logging anything that is not a client-facing problem.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var p *problems.Problem
	if !errors.As(err, &p) {
		a.log.Errorw("request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
	}
	problems.Write(w, err)
}

func identity(r *http.Request) *resolver.Identity { return middleware.IdentityFrom(r.Context()) }

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}
