package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"invoicing-backend/internal/handlers"
	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/websocket"
)

type Handlers struct {
	Client  *handlers.ClientHandler
	Invoice *handlers.InvoiceHandler
	Payment *handlers.PaymentHandler
	AI      *handlers.AIHandler
}

// Origins splits a comma-separated origin list.
func Origins(list string) []string {
	var out []string
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func New(
	jwtAuth *middleware.JWTAuth,
	chatLimiter *middleware.RateLimiter,
	h Handlers,
	wsHub *websocket.Hub,
	allowedOrigins []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(allowedOrigins))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// ──── WebSocket (token in query) ────
		r.Get("/ws", wsHub.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			// ──── Client Routes ────
			r.Route("/clients", func(r chi.Router) {
				r.Get("/", h.Client.List)
				r.Post("/", h.Client.Create)
				r.Get("/{id}", h.Client.Get)
				r.Put("/{id}", h.Client.Update)
				r.Delete("/{id}", h.Client.Delete)
			})

			// ──── Invoice Routes ────
			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", h.Invoice.List)
				r.Post("/", h.Invoice.Create)
				r.Get("/{id}", h.Invoice.Get)
				r.Delete("/{id}", h.Invoice.Delete)
				r.Put("/{id}/status", h.Invoice.UpdateStatus)
				r.Post("/{id}/reminders", h.Invoice.SendReminder)
			})

			// ──── Payment Routes ────
			r.Route("/payments", func(r chi.Router) {
				r.Get("/", h.Payment.List)
				r.Post("/", h.Payment.Record)
				r.Get("/{id}", h.Payment.Get)
				r.Put("/{id}/status", h.Payment.UpdateStatus)
				r.Delete("/{id}", h.Payment.Delete)
			})

			// ──── AI Assistant Routes ────
			r.Route("/ai", func(r chi.Router) {
				r.Use(chatLimiter.Middleware)
				r.Post("/chat", h.AI.Chat)
				r.Get("/greeting", h.AI.Greeting)
				r.Get("/risk-score/{invoiceId}", h.AI.RiskScore)
				r.Get("/suggestions", h.AI.Suggestions)
				r.Get("/analytics", h.AI.Analytics)
				r.Get("/autofill/{clientId}", h.AI.Autofill)
				r.Post("/actions", h.AI.Actions)
				r.Post("/actions/execute", h.AI.ExecuteAction)
			})
		})
	})

	return r
}
