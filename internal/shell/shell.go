// Package shell is the command surface callers use: it validates requests,
// routes them to the bridge or the task supervisor, and shapes replies.
package shell

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mattjoyce/convert/internal/archive"
	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/log"
	"github.com/mattjoyce/convert/internal/protocol"
	"github.com/mattjoyce/convert/internal/tasks"
)

const (
	CmdRestoreStart = "restore.start"
)

// Dispatcher forwards a command to the backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd string, payload json.RawMessage) (json.RawMessage, error)
}

// TaskManager starts and tracks background tasks.
type TaskManager interface {
	Start(ctx context.Context, kind string, params json.RawMessage) (string, error)
	Status(ctx context.Context, id string) (tasks.Snapshot, error)
	Cancel(id string) error
	Wait(ctx context.Context, id string) (tasks.Snapshot, error)
}

// Subscriber hands out progress subscriptions.
type Subscriber interface {
	Subscribe(taskID string) (<-chan events.ProgressEvent, func())
}

type Shell struct {
	bridge Dispatcher
	tasks  TaskManager
	hub    Subscriber
	logger *slog.Logger
}

func New(bridge Dispatcher, tm TaskManager, hub Subscriber) *Shell {
	return &Shell{
		bridge: bridge,
		tasks:  tm,
		hub:    hub,
		logger: log.WithComponent("shell"),
	}
}

// StartBackup launches a backup task and returns its id immediately.
func (s *Shell) StartBackup(ctx context.Context, targetDir string) (string, error) {
	params, err := protocol.EncodePayload(tasks.BackupParams{TargetDir: targetDir})
	if err != nil {
		return "", err
	}
	id, err := s.tasks.Start(ctx, tasks.KindBackup, params)
	if err != nil {
		return "", err
	}
	s.logger.Info("backup requested", "task_id", id, "target_dir", targetDir)
	return id, nil
}

// Dispatch passes a command through to the backend unchanged.
func (s *Shell) Dispatch(ctx context.Context, cmd string, payload json.RawMessage) (json.RawMessage, error) {
	return s.bridge.Dispatch(ctx, cmd, payload)
}

// RestoreFromFile asks the backend to restore from filePath and returns its
// raw reply.
func (s *Shell) RestoreFromFile(ctx context.Context, filePath string) (json.RawMessage, error) {
	payload, err := protocol.EncodePayload(map[string]string{"file_path": filePath})
	if err != nil {
		return nil, err
	}
	return s.bridge.Dispatch(ctx, CmdRestoreStart, payload)
}

// RestoreBackup checks that path names a .cvbak archive, then asks the
// backend to restore it. The bridge is not touched for other extensions.
func (s *Shell) RestoreBackup(ctx context.Context, path string) (string, error) {
	if !archive.HasExtension(path) {
		return "", &ValidationError{Reason: "Invalid file format. Expected " + archive.Extension}
	}

	payload, err := protocol.EncodePayload(map[string]string{"path": path})
	if err != nil {
		return "", err
	}

	logger := log.WithCommand(CmdRestoreStart)
	raw, err := s.bridge.Dispatch(ctx, CmdRestoreStart, payload)
	if err != nil {
		logger.Warn("restore dispatch failed", "path", path, "error", err)
		return "", &BridgeError{Command: CmdRestoreStart, Err: err}
	}

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		logger.Warn("restore reply not understood", "error", err)
		return "", &BackendError{Command: CmdRestoreStart, Message: "Unknown error"}
	}
	if !resp.IsSuccess() {
		msg := resp.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return "", &BackendError{Command: CmdRestoreStart, Message: msg}
	}

	msg := resp.Message
	if msg == "" {
		msg = "OK"
	}
	logger.Info("restore initiated", "path", path)
	return "Restore initiated: " + msg, nil
}

func (s *Shell) TaskStatus(ctx context.Context, id string) (tasks.Snapshot, error) {
	return s.tasks.Status(ctx, id)
}

func (s *Shell) CancelTask(id string) error {
	return s.tasks.Cancel(id)
}

func (s *Shell) WaitTask(ctx context.Context, id string) (tasks.Snapshot, error) {
	return s.tasks.Wait(ctx, id)
}

// Subscribe streams progress for taskID, or for all tasks when it is empty.
func (s *Shell) Subscribe(taskID string) (<-chan events.ProgressEvent, func()) {
	return s.hub.Subscribe(taskID)
}
