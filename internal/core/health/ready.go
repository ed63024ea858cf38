package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

// Checker reports whether one dependency can serve traffic.
type Checker interface {
	Ready(ctx context.Context) bool
}

type CheckerFunc func(ctx context.Context) bool

func (f CheckerFunc) Ready(ctx context.Context) bool { return f(ctx) }

// Readiness answers 200 only when every named check passes.
func Readiness(checks map[string]Checker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	slices.Sort(names)

	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string          `json:"status"`
			Checks map[string]bool `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		out := resp{Status: "ready", Checks: make(map[string]bool, len(names))}
		for _, n := range names {
			ok := checks[n].Ready(ctx)
			out.Checks[n] = ok
			if !ok {
				out.Status = "not_ready"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
