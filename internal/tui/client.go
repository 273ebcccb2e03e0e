package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mattjoyce/convert/internal/events"
)

// StreamEvents reads the SSE stream at baseURL/events and sends each
// progress event to out until ctx ends or the server closes the stream.
// out is closed on return.
func StreamEvents(ctx context.Context, client *http.Client, baseURL, token, taskID string, out chan<- events.ProgressEvent) error {
	defer close(out)
	if client == nil {
		client = http.DefaultClient
	}

	url := strings.TrimRight(baseURL, "/") + "/events"
	if taskID != "" {
		url += "?task_id=" + taskID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events stream: %s", resp.Status)
	}
	return readSSE(ctx, resp.Body, out)
}

// readSSE parses SSE frames; only backup_progress frames are decoded.
func readSSE(ctx context.Context, r io.Reader, out chan<- events.ProgressEvent) error {
	scanner := bufio.NewScanner(r)
	var typ, data string

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" && (typ == "" || typ == events.ProgressChannel) {
				var ev events.ProgressEvent
				if err := json.Unmarshal([]byte(data), &ev); err == nil {
					select {
					case out <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			typ, data = "", ""
		case strings.HasPrefix(line, "event: "):
			typ = line[len("event: "):]
		case strings.HasPrefix(line, "data: "):
			data = line[len("data: "):]
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
