// Package httpapi exposes the library over a JSON REST API.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bookstore/library/internal/auth"
	"github.com/bookstore/library/internal/library"
	"github.com/bookstore/library/internal/metrics"
)

// HealthChecker reports whether the service's dependencies are reachable
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Options configures the router
type Options struct {
	Inventory     *library.Inventory
	Accounts      *library.Accounts
	Health        HealthChecker
	Limiter       *RateLimiter
	AuthStrategy  string
	SecureCookies bool
	Log           *zap.Logger
}

// Server holds the handler dependencies
type Server struct {
	inventory     *library.Inventory
	accounts      *library.Accounts
	health        HealthChecker
	limiter       *RateLimiter
	authStrategy  string
	secureCookies bool
	log           *zap.Logger
}

// NewRouter builds the HTTP handler with every route and middleware
func NewRouter(opts Options) http.Handler {
	s := &Server{
		inventory:     opts.Inventory,
		accounts:      opts.Accounts,
		health:        opts.Health,
		limiter:       opts.Limiter,
		authStrategy:  opts.AuthStrategy,
		secureCookies: opts.SecureCookies,
		log:           opts.Log,
	}
	if s.authStrategy == "" {
		s.authStrategy = auth.StrategyLocal
	}

	r := mux.NewRouter()
	r.Use(requestID, recoverer(s.log), accessLog(s.log), metrics.InstrumentHandler)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	users := api.PathPrefix("/users").Subrouter()
	users.Handle("/register", s.limited(s.register)).Methods(http.MethodPost)
	users.Handle("/verify/{token}", s.limited(s.verify)).Methods(http.MethodGet)
	users.Handle("/login", s.limited(s.login)).Methods(http.MethodPost)
	users.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	users.HandleFunc("/update", s.updateProfile).Methods(http.MethodPut)
	users.Handle("/me", s.requireSession(http.HandlerFunc(s.me))).Methods(http.MethodGet)
	users.HandleFunc("/{uniqueId}", s.getUser).Methods(http.MethodGet)
	users.HandleFunc("", s.listUsers).Methods(http.MethodGet)

	books := api.PathPrefix("/books").Subrouter()
	books.HandleFunc("/search/{text}", s.searchBooks).Methods(http.MethodGet)
	books.HandleFunc("/filter/{genre}/{year}/{title}", s.filterBooks).Methods(http.MethodGet)
	books.HandleFunc("/return", s.returnBooks).Methods(http.MethodPost)
	books.HandleFunc("/{isbn}", s.getBook).Methods(http.MethodGet)
	books.HandleFunc("", s.addBook).Methods(http.MethodPost)
	books.HandleFunc("", s.listBooks).Methods(http.MethodGet)

	api.HandleFunc("/borrowed", s.listBorrowed).Methods(http.MethodGet)

	cart := api.PathPrefix("/cart").Subrouter()
	cart.HandleFunc("/add", s.addToCart).Methods(http.MethodPost)
	cart.HandleFunc("/checkout", s.checkout).Methods(http.MethodPost)
	cart.HandleFunc("/remove", s.removeFromCart).Methods(http.MethodPost)
	cart.HandleFunc("/{username}", s.booksInCart).Methods(http.MethodGet)

	return r
}

func (s *Server) limited(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.Handler(h)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Healthy(r.Context()); err != nil {
			s.log.Warn("Health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
