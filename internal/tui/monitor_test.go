package tui

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convert/internal/events"
)

func TestMonitorTracksTasks(t *testing.T) {
	m := NewMonitor(nil)
	now := time.Now()

	for _, ev := range []events.ProgressEvent{
		{TaskID: "OMEGA-a", At: now, Phase: events.PhaseInit},
		{TaskID: "OMEGA-b", At: now.Add(time.Second), Phase: events.PhaseSnapshot, Progress: 10},
		{TaskID: "OMEGA-a", At: now.Add(2 * time.Second), Phase: events.PhaseDone, Progress: 100},
	} {
		next, _ := m.Update(progressMsg(ev))
		m = next.(Monitor)
	}

	assert.Equal(t, 2, m.TaskCount())
	rows := m.table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "OMEGA-b", rows[0][1], "running tasks sort first")
	assert.Equal(t, "done", rows[1][2])
	assert.Len(t, m.eventLog, 3)
}

func TestMonitorDisconnected(t *testing.T) {
	m := NewMonitor(nil)
	next, _ := m.Update(streamClosedMsg{})
	m = next.(Monitor)
	assert.Contains(t, m.View(), "DISCONNECTED")
	assert.Contains(t, m.View(), "No events yet")
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 1",
		"event: backup_progress",
		`data: {"seq":1,"task_id":"OMEGA-1","phase":"init","progress":0}`,
		"",
		"id: 2",
		"event: something_else",
		`data: {"seq":2}`,
		"",
		"id: 3",
		"event: backup_progress",
		`data: {"seq":3,"task_id":"OMEGA-1","phase":"done","progress":100}`,
		"",
	}, "\n")

	out := make(chan events.ProgressEvent, 4)
	require.NoError(t, readSSE(context.Background(), strings.NewReader(stream), out))
	close(out)

	var got []events.ProgressEvent
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, events.PhaseDone, got[1].Phase)
}

func TestStreamEventsSendsTokenAndFilter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "OMEGA-9", r.URL.Query().Get("task_id"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 5\nevent: backup_progress\ndata: {\"seq\":5,\"task_id\":\"OMEGA-9\",\"phase\":\"done\",\"progress\":100}\n\n")
	}))
	defer ts.Close()

	out := make(chan events.ProgressEvent, 2)
	require.NoError(t, StreamEvents(context.Background(), ts.Client(), ts.URL+"/", "tok", "OMEGA-9", out))
	ev, ok := <-out
	require.True(t, ok)
	assert.Equal(t, "OMEGA-9", ev.TaskID)
	_, ok = <-out
	assert.False(t, ok, "channel is closed when the stream ends")

	bad := make(chan events.ProgressEvent)
	err := StreamEvents(context.Background(), ts.Client(), ts.URL, "wrong", "OMEGA-9", bad)
	assert.ErrorContains(t, err, "401")
}
