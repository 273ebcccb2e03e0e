package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/convert/internal/bridge"
	"github.com/mattjoyce/convert/internal/protocol"
	"github.com/mattjoyce/convert/internal/shell"
	"github.com/mattjoyce/convert/internal/tasks"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleDispatch handles POST /dispatch and returns the backend reply as-is.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Cmd) == "" {
		s.writeError(w, http.StatusBadRequest, "cmd is required")
		return
	}

	reply, err := s.shell.Dispatch(r.Context(), req.Cmd, req.Payload)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	respondRaw(w, http.StatusOK, reply)
}

// handleBackup handles POST /backup.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req BackupRequest
	if !s.decodeOptionalBody(w, r, &req) {
		return
	}

	id, err := s.shell.StartBackup(r.Context(), req.TargetDir)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, BackupResponse{TaskID: id})
}

// handleRestoreFile handles POST /restore/file.
func (s *Server) handleRestoreFile(w http.ResponseWriter, r *http.Request) {
	var req RestoreFileRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		s.writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	reply, err := s.shell.RestoreFromFile(r.Context(), req.FilePath)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	respondRaw(w, http.StatusOK, reply)
}

// handleRestoreBackup handles POST /restore/backup.
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req RestoreBackupRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	msg, err := s.shell.RestoreBackup(r.Context(), req.Path)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, RestoreBackupResponse{Message: msg})
}

// handleGetTask handles GET /tasks/{taskID}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := s.shell.TaskStatus(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleCancelTask handles DELETE /tasks/{taskID}.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if err := s.shell.CancelTask(id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, CancelResponse{TaskID: id, Status: "cancelling"})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decode(w, r, dst, false)
}

// decodeOptionalBody is decodeBody for requests whose fields are all
// optional: an empty body leaves dst at its zero value.
func (s *Server) decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decode(w, r, dst, true)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps an error from the shell onto an HTTP status. Order matters:
// a BridgeError unwraps to whatever the bridge returned.
func statusFor(err error) int {
	var (
		validation *shell.ValidationError
		backend    *shell.BackendError
		serr       *protocol.SerializationError
		initErr    *bridge.InitError
		execErr    *bridge.ExecutionError
		bridgeErr  *shell.BridgeError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &serr), errors.Is(err, tasks.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrTaskFinished):
		return http.StatusConflict
	case errors.As(err, &backend):
		return http.StatusUnprocessableEntity
	case errors.As(err, &initErr), errors.Is(err, tasks.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &execErr), errors.As(err, &bridgeErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeError(w, status, shell.ErrorString(err))
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondRaw(w http.ResponseWriter, statusCode int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(raw)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
