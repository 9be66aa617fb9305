package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/postings", h.HandlePostSimple)
		r.Post("/postings/{id}/reverse", h.HandleReverse)
		r.Post("/transfers", h.HandlePostTransfer)

		r.Get("/entries", h.HandleEntries)
		r.Get("/statement", h.HandleStatement)
	})
}
