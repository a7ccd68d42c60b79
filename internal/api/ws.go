package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	// logPollInterval is how often a stream checks its job for new lines.
	logPollInterval = 200 * time.Millisecond
	writeTimeout    = 10 * time.Second
)

// StreamJobLogs tails a job's log over WebSocket. The optional "from" query
// parameter skips lines a reconnecting client has already seen. The stream
// closes with the job status as reason once the job is over and drained.
func (s *Server) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	job := s.Jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil || offset < 0 {
		offset = 0
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	for {
		// Done is read before the lines so a final burst is still sent.
		done := job.Done()
		lines := job.LogsSince(offset)
		for _, line := range lines {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
			offset++
		}
		if done && len(lines) == 0 {
			reason := websocket.FormatCloseMessage(websocket.CloseNormalClosure, job.Snapshot().Status)
			conn.WriteControl(websocket.CloseMessage, reason, time.Now().Add(writeTimeout))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
