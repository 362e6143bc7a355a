package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/imagegen-studio/internal/api/response"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

// Pinger is a backing service checked by ReadyCheck
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including backing store connectivity
func ReadyCheck(pingers map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for name, p := range pingers {
			if err := p.Ping(r.Context()); err != nil {
				response.ServiceUnavailable(w, name+" not ready")
				return
			}
		}

		response.OK(w, map[string]string{
			"status": "ready",
		})
	}
}

// ListModels returns the model catalogue
func ListModels(registry *llm.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]any{
			"models": registry.List(),
		})
	}
}

// ListStyles returns the style presets in display order
func ListStyles(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]any{
		"styles": llm.ListStylePresets(),
	})
}
