package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mmynk/tripledger/internal/auth"
)

// EventsPath is where Handler is mounted.
const EventsPath = "/v1/events"

// Handler streams hub events for the group named by the "group" query
// parameter. When jwtManager is non-nil a valid bearer token is required.
func Handler(hub *Hub, jwtManager *auth.JWTManager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if jwtManager != nil {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if _, err := jwtManager.Validate(token); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		groupID := r.URL.Query().Get("group")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ch, cancel := hub.Subscribe(groupID)
		defer cancel()

		// Comment line so clients see the stream open before the first event.
		_, _ = fmt.Fprint(w, ": subscribed\n\n")
		flusher.Flush()
		slog.Debug("Event stream opened", "group_id", groupID)

		for {
			select {
			case <-r.Context().Done():
				slog.Debug("Event stream closed", "group_id", groupID)
				return
			case ev := <-ch:
				writeSSE(w, ev)
				flusher.Flush()
			}
		}
	})
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
