package integrationhttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const rateLimit = 30
const rateWindow = time.Minute

// MountRoutes registers the integration endpoints. Write endpoints are rate limited.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Get("/rules", h.rules)
	r.Get("/pending", h.pending)
	if h.ledger != nil {
		r.Get("/journals", h.listJournals)
		r.Get("/journals/{id}", h.getJournal)
		r.Get("/trial-balance", h.trialBalance)
	}
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/sync/{module}/{id}", h.sync)
		gr.Post("/reconcile", h.reconcile)
		if h.events != nil {
			gr.Post("/events", h.ingest)
		}
		if h.mappings != nil {
			gr.Post("/mappings/reload", h.reloadMappings)
		}
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
		return "tenant:" + tenant, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
