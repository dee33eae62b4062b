package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reconcile/internal/logging"
	"reconcile/internal/operation"
)

const streamKeepAlive = 15 * time.Second

// handleStream pushes operation snapshots as server-sent events until the
// terminal snapshot has been written. Operations that are only known from
// history produce a single event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tracker, live := s.registry.Get(id)
	var final operation.Operation
	if !live {
		op, err := s.registry.Lookup(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		final = op
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := logging.WithContext(logging.WithOperationID(r.Context(), id), s.logger)
	if !live {
		if err := writeEvent(w, final); err != nil {
			logger.Debug("stream write failed", logging.Error(err))
			return
		}
		_ = rc.Flush()
		return
	}

	updates := tracker.Subscribe(r.Context())
	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, snapshot); err != nil {
				logger.Debug("stream write failed", logging.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, op operation.Operation) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: operation\ndata: %s\n\n", op.Sequence, payload)
	return err
}
