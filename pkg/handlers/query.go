package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/apperrors"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
	"github.com/datapilot-ai/datapilot-engine/pkg/services"
)

// QueryRunner drives a request to its terminal outcome. Satisfied by
// *services.Coordinator.
type QueryRunner interface {
	Execute(ctx context.Context, req *models.Request, emit services.Emitter) (*models.QueryResult, error)
}

// QueryHandler handles query submission with NDJSON progress streaming.
type QueryHandler struct {
	runner         QueryRunner
	progressBuffer int
	logger         *zap.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(runner QueryRunner, progressBuffer int, logger *zap.Logger) *QueryHandler {
	if progressBuffer <= 0 {
		progressBuffer = 64
	}
	return &QueryHandler{runner: runner, progressBuffer: progressBuffer, logger: logger}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/query", h.Submit)
}

// streamLine is one NDJSON line of the response stream. Progress lines come
// in any number; exactly one terminal line (result or error set) closes the
// stream.
type streamLine struct {
	Type     string                `json:"type"`
	Progress *models.ProgressEvent `json:"progress,omitempty"`
	Result   *models.QueryResult   `json:"result,omitempty"`
	Error    *models.RunError      `json:"error,omitempty"`
}

// Submit handles POST /api/v1/query. The response is NDJSON: progress lines
// while the pipeline runs, then exactly one terminal line.
func (h *QueryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	mode, err := models.ParseExecutionMode(string(req.ExecutionMode))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.ExecutionMode = mode

	if err := req.Validate(); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	progressCh := make(chan models.ProgressEvent, h.progressBuffer)

	type outcome struct {
		result *models.QueryResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, runErr := h.runner.Execute(r.Context(), &req, services.ChannelEmitter(progressCh))
		close(progressCh)
		done <- outcome{result: result, err: runErr}
	}()

	for ev := range progressCh {
		if err := enc.Encode(streamLine{Type: "progress", Progress: &ev}); err != nil {
			h.logger.Debug("Client went away mid-stream", zap.Error(err))
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	out := <-done
	line := streamLine{Type: "terminal"}
	if out.err != nil {
		line.Error = runError(out.err)
		h.logger.Info("Query run failed",
			zap.String("rule_category", req.NormalizedRuleCategory()),
			zap.String("error", out.err.Error()))
	} else {
		line.Result = out.result
	}
	if err := enc.Encode(line); err != nil {
		h.logger.Debug("Failed to write terminal line", zap.Error(err))
	}
	if flusher != nil {
		flusher.Flush()
	}
}

// runError converts a pipeline error into the wire shape, surfacing the
// attempt count when the run carried one.
func runError(err error) *models.RunError {
	var failure *services.RunFailure
	if errors.As(err, &failure) {
		return &models.RunError{Message: failure.Error(), Attempts: failure.Attempts}
	}
	if errors.Is(err, apperrors.ErrGeneration) {
		return &models.RunError{Message: err.Error(), Attempts: 1}
	}
	return &models.RunError{Message: err.Error()}
}
