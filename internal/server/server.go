// Package server exposes a small read-only operations endpoint over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"threadfeed/internal/domain"
	"threadfeed/internal/service"
)

// Feeds is the read-only slice of the engine the server exposes.
type Feeds interface {
	ListFeeds(ctx context.Context, destinationID string) ([]domain.NamedRecord, error)
	FeedStats(ctx context.Context, destinationID, name string) (*domain.FeedRecord, error)
}

type Server struct {
	feeds  Feeds
	logger *slog.Logger
	http   *http.Server
}

func New(addr string, feeds Feeds, logger *slog.Logger) *Server {
	s := &Server{
		feeds:  feeds,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/destinations/{destinationID}/feeds", s.handleListFeeds)
	r.Get("/destinations/{destinationID}/feeds/{name}", s.handleFeedStats)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server started", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	destinationID := chi.URLParam(r, "destinationID")

	records, err := s.feeds.ListFeeds(r.Context(), destinationID)
	if err != nil {
		s.logger.Error("list feeds failed", "destination", destinationID, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	type feedItem struct {
		Name          string `json:"name"`
		URL           string `json:"url"`
		LastPostID    int64  `json:"last_post_id"`
		ReplyCount    int    `json:"reply_count"`
		EmbedOverride string `json:"embed_override"`
		IsArchived    bool   `json:"is_archived"`
	}

	items := make([]feedItem, 0, len(records))
	for _, rec := range records {
		items = append(items, feedItem{
			Name:          rec.Name,
			URL:           rec.Record.URL,
			LastPostID:    rec.Record.LastPostID,
			ReplyCount:    rec.Record.ReplyCount,
			EmbedOverride: rec.Record.EmbedOverride.String(),
			IsArchived:    rec.Record.IsArchived,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"feeds": items})
}

func (s *Server) handleFeedStats(w http.ResponseWriter, r *http.Request) {
	destinationID := chi.URLParam(r, "destinationID")
	name := chi.URLParam(r, "name")

	rec, err := s.feeds.FeedStats(r.Context(), destinationID, name)
	if errors.Is(err, service.ErrFeedNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "feed not found"})
		return
	}
	if err != nil {
		s.logger.Error("feed stats failed", "destination", destinationID, "feed", name, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":             name,
		"url":              rec.URL,
		"last_post_id":     rec.LastPostID,
		"reply_count":      rec.ReplyCount,
		"image_count":      rec.ImageCount,
		"last_delivered":   rec.LastDelivered,
		"embed_override":   rec.EmbedOverride.String(),
		"is_archived":      rec.IsArchived,
		"is_sticky":        rec.IsSticky,
		"is_at_bump_limit": rec.IsAtBumpLimit,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response encode failed", "error", err)
	}
}
