package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/models"
)

// CacheReader lists cache contents. Satisfied by *cache.Repository.
type CacheReader interface {
	List(ctx context.Context) ([]models.CacheEntry, error)
	Stats(ctx context.Context) (*models.CacheStats, error)
}

// CacheInvalidator removes the entries for a rule category and their result
// tables. Satisfied by *services.Coordinator.
type CacheInvalidator interface {
	InvalidateRule(ctx context.Context, ruleCategory, database string) (int, error)
}

// CacheSweeper hard-deletes expired entries. Satisfied by *services.Janitor.
type CacheSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CacheAdminHandler exposes the cache administration endpoints.
type CacheAdminHandler struct {
	reader      CacheReader
	invalidator CacheInvalidator
	sweeper     CacheSweeper
	logger      *zap.Logger
}

// NewCacheAdminHandler creates a CacheAdminHandler.
func NewCacheAdminHandler(reader CacheReader, invalidator CacheInvalidator, sweeper CacheSweeper, logger *zap.Logger) *CacheAdminHandler {
	return &CacheAdminHandler{reader: reader, invalidator: invalidator, sweeper: sweeper, logger: logger}
}

// RegisterRoutes registers the cache admin routes on the given mux.
func (h *CacheAdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/cache", h.List)
	mux.HandleFunc("GET /api/v1/cache/stats", h.Stats)
	mux.HandleFunc("DELETE /api/v1/cache/{rule}", h.Invalidate)
	mux.HandleFunc("POST /api/v1/cache/clear-expired", h.Cleanup)
}

// List handles GET /api/v1/cache?database=. Stale entries are included; they
// stay inspectable until a cleanup sweep removes them.
func (h *CacheAdminHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reader.List(r.Context())
	if err != nil {
		h.logger.Error("Cache list failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "cache_error", "failed to list cache entries")
		return
	}

	if database := r.URL.Query().Get("database"); database != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Database == database {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	}); err != nil {
		h.logger.Error("Failed to encode cache list", zap.Error(err))
	}
}

// Stats handles GET /api/v1/cache/stats.
func (h *CacheAdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.Stats(r.Context())
	if err != nil {
		h.logger.Error("Cache stats failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "cache_error", "failed to compute cache stats")
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to encode cache stats", zap.Error(err))
	}
}

// Invalidate handles DELETE /api/v1/cache/{rule}?database=. Invalidation is
// destructive: the materialized result tables are dropped with the entries.
func (h *CacheAdminHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	rule := r.PathValue("rule")
	database := r.URL.Query().Get("database")
	if rule == "" || database == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "rule category and database are required")
		return
	}

	removed, err := h.invalidator.InvalidateRule(r.Context(), rule, database)
	if err != nil {
		h.logger.Error("Cache invalidate failed",
			zap.String("rule_category", rule),
			zap.String("database", database),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "cache_error", "failed to invalidate cache entries")
		return
	}
	if removed == 0 {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "no cache entries for rule category")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"rule_category": rule,
		"database":      database,
		"removed":       removed,
	}); err != nil {
		h.logger.Error("Failed to encode invalidate response", zap.Error(err))
	}
}

// Cleanup handles POST /api/v1/cache/clear-expired, triggering one sweep on
// demand.
func (h *CacheAdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("Cache cleanup failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "cache_error", "cleanup sweep failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]int{"removed": removed}); err != nil {
		h.logger.Error("Failed to encode cleanup response", zap.Error(err))
	}
}
