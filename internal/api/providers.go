package api

import (
	"net/http"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/log"
)

// providersHandler reports the configured model backends.
type providersHandler struct {
	active ai.Options
	logger log.Logger
}

func (h *providersHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":        ai.Catalog(h.active),
		"default_provider": h.active.Provider,
		"default_model":    h.active.Model,
	}, h.logger)
}
