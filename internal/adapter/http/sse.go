package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/clipper/internal/service"
)

const defaultKeepAlive = 15 * time.Second

type SSEHandler struct {
	eventBus  *service.EventBus
	jobs      JobService
	keepAlive time.Duration
}

func NewSSEHandler(eventBus *service.EventBus, jobs JobService) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		jobs:      jobs,
		keepAlive: defaultKeepAlive,
	}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sendStatus(w http.ResponseWriter, ev service.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	sseWrite(w, "status", string(data))
	return nil
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Events streams status snapshots for one job and ends the stream once the
// job is terminal.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		ctx := r.Context()

		// Subscribe before the snapshot so no commit falls between the two.
		ch := h.eventBus.Subscribe(id)
		defer h.eventBus.Unsubscribe(id, ch)

		view, err := h.jobs.GetJob(ctx, userFrom(ctx), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		current := service.NewJobEvent(view.Job)
		if err := sendStatus(w, current); err != nil || current.Status.IsTerminal() {
			return
		}

		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := sendStatus(w, event); err != nil {
					return
				}
				if event.Status.IsTerminal() {
					return
				}
			}
		}
	}
}
