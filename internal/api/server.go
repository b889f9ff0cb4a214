package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// NewRouter mounts the REST endpoints and the event feed. log may be nil.
func NewRouter(log *zap.Logger, core Core, hub *Hub) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	validate := validator.New(validator.WithRequiredStructEnabled())

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.NotFound(NotFound())
	router.MethodNotAllowed(NotAllowed())

	router.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(render.SetContentType(render.ContentTypeJSON))

			r.Get("/status", GetStatus(core))
			r.Get("/search", Search(log, core))
			r.Post("/ingest", Ingest(log, core))

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", ListConversations(log, core))
				r.Get("/counts", Counts(log, core))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", GetConversation(log, core))
					r.Get("/messages", ListMessages(log, core))
					r.Post("/messages", SendMessage(log, core, validate))
					r.Post("/read", MarkRead(log, core))
					r.Post("/actions", Act(log, core, validate))
				})
			})
			r.Route("/signatures", func(r chi.Router) {
				r.Get("/", ListSignatures(log, core))
				r.Put("/{id}", SaveSignature(log, core, validate))
				r.Delete("/{id}", DeleteSignature(log, core))
			})
		})
		if hub != nil {
			v1.Get("/events", hub.ServeEvents())
		}
	})
	return router
}

// Server is the HTTP listener of the daemon.
type Server struct {
	addr string
	http *http.Server
	log  *zap.Logger
	ln   net.Listener
}

func NewServer(addr string, handler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		addr: addr,
		log:  log,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(log),
		},
	}
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("starting api server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
