package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/apperrors"
	"github.com/datapilot-ai/datapilot-engine/pkg/schema"
)

// SchemaHandler exposes the schema discovery endpoints.
type SchemaHandler struct {
	store  *schema.Store
	logger *zap.Logger
}

// NewSchemaHandler creates a SchemaHandler.
func NewSchemaHandler(store *schema.Store, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{store: store, logger: logger}
}

// RegisterRoutes registers the schema routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/schemas", h.List)
	mux.HandleFunc("GET /api/v1/schemas/{name}/tables", h.Tables)
}

// List handles GET /api/v1/schemas.
func (h *SchemaHandler) List(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.store.List()
	if err != nil {
		h.logger.Error("Schema list failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "schema_error", "failed to list schemas")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"schemas": schemas,
		"count":   len(schemas),
	}); err != nil {
		h.logger.Error("Failed to encode schema list", zap.Error(err))
	}
}

// TableInfo is one table of a schema on the wire.
type TableInfo struct {
	Name      string `json:"name"`
	Qualified string `json:"qualified"`
}

// Tables handles GET /api/v1/schemas/{name}/tables.
func (h *SchemaHandler) Tables(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ddl, err := h.store.Load(name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "no such schema")
			return
		}
		h.logger.Error("Schema load failed", zap.String("schema", name), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "schema_error", "failed to load schema")
		return
	}

	database, err := schema.ExtractDatabase(ddl)
	if err != nil {
		h.logger.Error("Schema has no database declaration", zap.String("schema", name), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "schema_error", "schema file is malformed")
		return
	}

	tables := schema.ParseTables(ddl)
	infos := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		infos = append(infos, TableInfo{Name: t.Name, Qualified: t.Qualified})
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"schema":   name,
		"database": database,
		"tables":   infos,
	}); err != nil {
		h.logger.Error("Failed to encode table list", zap.Error(err))
	}
}
