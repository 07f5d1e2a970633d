package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"paytrack/internal/tracker"
)

// closeCheckInterval bounds how long a stream outlives its session.
const closeCheckInterval = time.Second

func writeEvent(w http.ResponseWriter, event, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := fmt.Fprint(w, b.String()); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// events streams the session to the page: rendered fragments as "state",
// bridge instructions under their own names and a final "closed".
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	bridge, ok := bridgeOf(s)
	if !ok {
		writeError(w, http.StatusConflict, "session has no event stream")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := h.logger.With("session_id", s.ID())

	sendState := func(v tracker.View) error {
		body, err := h.render.Fragment(s.ID(), s.Lang(), v)
		if err != nil {
			logger.Error("Failed to render fragment", "error", err)
			return nil
		}
		return writeEvent(w, "state", string(body))
	}
	drain := func() error {
		for {
			select {
			case ins := <-bridge.Instructions():
				if err := writeEvent(w, ins.Event, ins.Data); err != nil {
					return err
				}
			default:
				return nil
			}
		}
	}

	if err := sendState(s.View()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	closeCheck := time.NewTicker(closeCheckInterval)
	defer closeCheck.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-bridge.Updates():
			v, ok := bridge.Latest()
			if !ok {
				continue
			}
			if err := sendState(v); err != nil {
				return
			}

		case ins := <-bridge.Instructions():
			if err := writeEvent(w, ins.Event, ins.Data); err != nil {
				return
			}

		case <-heartbeat.C:
			s.Touch()
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			w.(http.Flusher).Flush()

		case <-closeCheck.C:
			if !s.Closed() {
				continue
			}
			// a retry closes the session and queues the navigation right after
			if err := drain(); err != nil {
				return
			}
			_ = writeEvent(w, "closed", "")
			return
		}
	}
}
