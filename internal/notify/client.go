package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Subscribe opens an event stream for groupID (all groups when empty) and
// returns a channel of decoded events. The channel closes when ctx is done
// or the stream ends.
func Subscribe(ctx context.Context, httpClient *http.Client, baseURL, groupID, token string) (<-chan Event, error) {
	u := strings.TrimRight(baseURL, "/") + EventsPath
	if groupID != "" {
		u += "?group=" + url.QueryEscape(groupID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream: unexpected status %s", resp.Status)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data.Len() == 0 {
					continue
				}
				var ev Event
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					slog.Warn("Dropping malformed event", "error", err)
				} else {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
				data.Reset()
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			slog.Warn("Event stream ended", "error", err)
		}
	}()
	return out, nil
}
