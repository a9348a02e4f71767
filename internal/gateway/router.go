package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leafline/voicecapture/pkg/logger"
)

// Router builds the HTTP surface of the gateway.
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a router over the given handler.
func NewRouter(handler *Handler, log *logger.Logger) *Router {
	return &Router{
		handler: handler,
		logger:  log.Named("router"),
	}
}

// Routes returns the assembled handler tree.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)
		r.Get("/ws", rt.handler.HandleWebSocket)

		r.Route("/voice", func(r chi.Router) {
			r.Post("/transcribe", rt.handler.Transcribe)
			r.Get("/ws/stream", rt.handler.HandleStream)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/start", rt.handler.StartSession)
			r.Post("/stop", rt.handler.StopSession)
			r.Post("/cancel", rt.handler.CancelSession)
			r.Get("/status", rt.handler.SessionStatus)
		})

		r.Route("/utterances", func(r chi.Router) {
			r.Get("/", rt.handler.GetUtterances)
			r.Get("/session/{sessionID}", rt.handler.GetUtterancesBySession)
		})
	})

	return r
}
