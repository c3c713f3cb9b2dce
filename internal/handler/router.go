package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/roomdesign-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса генерации дизайнов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Get("/credits", h.GetCreditsHistory)
			r.Post("/credits/purchase", h.PurchaseCredits)
		})
	})

	r.Route("/api/designs", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/", h.CreateDesign)
		r.Get("/", h.GetDesigns)
		r.Get("/{designID}", h.GetDesign)
		r.Post("/{designID}/images/{imageID}/favorite", h.SetImageFavorite)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
