package api

import (
	"net/http"
	"sort"
)

type route struct {
	method      string
	path        string
	operationID string
	summary     string
	body        map[string]any
	responses   map[string]any
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var str = map[string]any{"type": "string"}

var routes = []route{
	{http.MethodPost, "/dispatch", "dispatch", "Forward a command envelope to the backend",
		object(map[string]any{"cmd": str, "payload": map[string]any{"type": "object"}}, "cmd"),
		map[string]any{"200": "Backend reply", "400": "Bad request", "502": "Backend raised", "503": "Backend unavailable"}},
	{http.MethodPost, "/backup", "startBackup", "Start a backup task",
		object(map[string]any{"target_dir": str}),
		map[string]any{"202": "Task accepted", "400": "Bad request"}},
	{http.MethodPost, "/restore/file", "restoreFromFile", "Ask the backend to restore a file",
		object(map[string]any{"file_path": str}, "file_path"),
		map[string]any{"200": "Backend reply", "400": "Bad request"}},
	{http.MethodPost, "/restore/backup", "restoreBackup", "Restore a .cvbak archive",
		object(map[string]any{"path": str}, "path"),
		map[string]any{"200": "Restore initiated", "400": "Invalid file format", "422": "Backend refused"}},
	{http.MethodGet, "/tasks/{taskID}", "getTask", "Read a task snapshot", nil,
		map[string]any{"200": "Task snapshot", "404": "Task not found"}},
	{http.MethodDelete, "/tasks/{taskID}", "cancelTask", "Cancel a running task", nil,
		map[string]any{"202": "Cancellation requested", "404": "Task not found", "409": "Task already finished"}},
	{http.MethodGet, "/events", "streamEvents", "Stream backup_progress events (SSE)", nil,
		map[string]any{"200": "text/event-stream"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the routes above.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]map[string]any{}
	for _, rt := range routes {
		responses := map[string]any{}
		codes := make([]string, 0, len(rt.responses))
		for code := range rt.responses {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			responses[code] = map[string]any{"description": rt.responses[code]}
		}

		op := map[string]any{
			"operationId": rt.operationID,
			"summary":     rt.summary,
			"responses":   responses,
			"security":    []any{map[string]any{"BearerAuth": []string{}}},
		}
		if rt.body != nil {
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{"schema": rt.body},
				},
			}
		}

		item, ok := paths[rt.path]
		if !ok {
			item = map[string]any{}
			paths[rt.path] = item
		}
		switch rt.method {
		case http.MethodGet:
			item["get"] = op
		case http.MethodPost:
			item["post"] = op
		case http.MethodDelete:
			item["delete"] = op
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "convert",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
