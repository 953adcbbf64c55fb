package api

import (
	"ShopChat/internal/bridge"
	"ShopChat/internal/config"
	"ShopChat/internal/http-server/handlers/chat"
	"ShopChat/internal/http-server/handlers/errors"
	"ShopChat/internal/http-server/middleware/authenticate"
	"ShopChat/internal/lib/sl"
	"context"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	requestTimeout  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	bridge.Authenticator
	chat.Core
}

// NewRouter builds the local bridge routes. The websocket endpoint checks the
// key from its token query parameter, so it sits outside the bearer guard.
func NewRouter(log *slog.Logger, handler Handler, hub *bridge.Hub) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			bridge.ServeWs(hub, handler, log, w, r)
		})

		v1.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(authenticate.New(log, handler))

			r.Route("/chat", func(r chi.Router) {
				r.Get("/conversations", chat.ListConversations(log, handler))
				r.Get("/conversations/{id}/messages", chat.ListMessages(log, handler))
				r.Post("/conversations/{id}/open", chat.OpenConversation(log, handler))
				r.Post("/conversations/{id}/read", chat.MarkRead(log, handler))
				r.Post("/send", chat.Send(log, handler))
				r.Post("/panel/open", chat.OpenPanel(log, handler))
				r.Post("/panel/close", chat.ClosePanel(log, handler))
				r.Post("/refresh", chat.Refresh(log, handler))
				r.Get("/badge", chat.Badge(log, handler))
			})
		})
	})

	return router
}

// New serves the bridge API until ctx is done.
func New(ctx context.Context, conf *config.Config, log *slog.Logger, handler Handler, hub *bridge.Hub) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  NewRouter(log, handler, hub),
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.httpServer.Shutdown(shutdownCtx)
	}()

	server.log.Info("starting api server", slog.String("address", serverAddress))

	err = server.httpServer.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
