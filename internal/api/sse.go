package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reviewq/internal/domain"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type jobEvent struct {
	ID       string          `json:"id"`
	State    domain.JobState `json:"state"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error,omitempty"`
}

// streamJobs pushes every job transition as an SSE "job" event, with a "ping"
// event every heartbeat interval.
func (s *Server) streamJobs(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// long-lived stream; the server-wide write timeout does not apply
	_ = rc.SetWriteDeadline(time.Time{})

	sub := s.queue.Subscribe()
	defer sub.Unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("sse: response writer cannot flush")
		return
	}

	l := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
	l.Info().Msg("sse client connected")
	defer l.Info().Msg("sse client disconnected")

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case j, ok := <-sub.C():
			if !ok {
				return
			}
			data, _ := json.Marshal(jobEvent{ID: j.ID, State: j.State, Attempts: j.Attempts, Error: j.LastError})
			err = writeEvent(w, "job", data)
		case t := <-ticker.C:
			err = writeEvent(w, "ping", []byte(strconv.FormatInt(t.UnixMilli(), 10)))
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			l.Debug().Err(err).Msg("sse write failed")
			return
		}
	}
}

func writeEvent(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
