package api

import (
	"encoding/json"
)

// DispatchRequest is the JSON body for POST /dispatch.
type DispatchRequest struct {
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BackupRequest is the JSON body for POST /backup.
type BackupRequest struct {
	TargetDir string `json:"target_dir"`
}

// BackupResponse is returned once a backup task is accepted.
type BackupResponse struct {
	TaskID string `json:"task_id"`
}

// RestoreFileRequest is the JSON body for POST /restore/file.
type RestoreFileRequest struct {
	FilePath string `json:"file_path"`
}

// RestoreBackupRequest is the JSON body for POST /restore/backup.
type RestoreBackupRequest struct {
	Path string `json:"path"`
}

// RestoreBackupResponse carries the human-readable restore outcome.
type RestoreBackupResponse struct {
	Message string `json:"message"`
}

// CancelResponse is returned by DELETE /tasks/{task_id}.
type CancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
