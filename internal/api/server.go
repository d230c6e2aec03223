package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"linkdigest/internal/clock"
	"linkdigest/internal/config"
	"linkdigest/internal/infra/redisstore"
	"linkdigest/internal/infra/settings"
	"linkdigest/internal/ports"
	"linkdigest/internal/queue"
	"linkdigest/internal/retry"
	"linkdigest/internal/usecase"
)

type submitReq struct {
	ID string `json:"id"`
}

type settingReq struct {
	Value string `json:"value"`
}

type itemStatus struct {
	ID          string     `json:"id"`
	Queued      bool       `json:"queued"`
	Attempts    int        `json:"attempts"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type Server struct {
	router *chi.Mux
}

func NewServer() *Server {
	ctx := context.Background()
	cfg := config.Load()

	store := redisstore.New(cfg.Redis)
	if err := store.Connect(ctx); err != nil {
		log.Ctx(ctx).Fatal().Msgf("something went wrong: %s", err)
	}
	return newServer(store)
}

func newServer(store ports.Store) *Server {
	clk := clock.System{}
	q := queue.New(store, "")
	retries := retry.New(store, "")
	enq := usecase.Enqueuer{Queue: q, Clock: clk}
	prefs := settings.New(store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/items", func(w http.ResponseWriter, r *http.Request) {
		var req submitReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		if err := enq.Submit(r.Context(), req.ID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": req.ID})
	})

	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		status := itemStatus{ID: id}
		at, queued, err := q.ScheduledAt(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		status.Queued = queued
		if queued {
			status.ScheduledAt = &at
		}
		if status.Attempts, err = retries.Attempts(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	r.Put("/settings/{key}", func(w http.ResponseWriter, r *http.Request) {
		var req settingReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := "settings:" + chi.URLParam(r, "key")
		if err := prefs.Set(r.Context(), key, req.Value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Operator escape hatch: clears the fatal-auth pause once credentials
	// have been fixed, without waiting for the TTL.
	r.Post("/pipeline/resume", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), usecase.DefaultPauseKey); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return &Server{router: r}
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
