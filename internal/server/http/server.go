package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/runtime"
	"github.com/jswanson6857/shop-analytics/internal/server/http/controllers"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// Server is the HTTP surface: hook intake, history queries, WebSocket
// subscriptions, health, and metrics.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

// New builds the server and registers every controller.
func New(rt *runtime.Runtime) *Server {
	logger := rt.Logger().With(logpkg.Component("http"))
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}

	controllers.NewGeneralController(rt).RegisterRoutes(mux)
	controllers.NewHooksController(rt, logger).RegisterRoutes(mux)
	controllers.NewHistoryController(rt, logger).RegisterRoutes(mux)
	controllers.NewWSController(rt, logger).RegisterRoutes(mux)
	controllers.NewConnectionsController(rt).RegisterRoutes(mux)
	mux.Handle("/metrics", rt.Metrics().Handler())
	return s
}

// Handler exposes the wired handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// cors allows dashboards on other origins to call the API. Preflight
// requests short-circuit with 204.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
