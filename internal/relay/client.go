// Package relay is the event bus: a thin HTTP client (Notifier/Watcher) for
// the relay's push and stream endpoints, plus the relay daemon itself.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"session-service/internal/event"
)

// ErrUnavailable reports a relay transport failure on publish or subscribe.
var ErrUnavailable = errors.New("relay unavailable")

// Client talks to a relay instance. Deadlines are the caller's business:
// pass a context with one.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
	}
}

// Notify serializes one event and pushes it to the relay's ingestion
// endpoint for the session.
func (c *Client) Notify(ctx context.Context, sessionID string, clientType event.ClientType, kind event.Kind, payload event.Payload) error {
	body, err := event.Encode(event.Event{
		Session:    sessionID,
		ClientType: clientType,
		Kind:       kind,
		Payload:    payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/input/"+sessionID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: relay returned %s", ErrUnavailable, resp.Status)
	}
	return nil
}

// Watch opens a long-lived subscription to the session's event stream and
// invokes onEvent for every decoded frame, in the order the relay delivers
// them. Malformed frames are logged and dropped; the stream continues. The
// returned cancel func terminates the subscription and is safe to call more
// than once. In-flight callbacks are not interrupted, only future delivery
// stops.
func (c *Client) Watch(ctx context.Context, sessionID string, onEvent func(event.Event)) (context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stream/session/"+sessionID, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: relay returned %s", ErrUnavailable, resp.Status)
	}

	go func() {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			ev, err := event.Decode(line)
			if err != nil {
				// A single bad frame must not kill the subscription.
				log.Printf("relay: dropping frame for session %s: %v", sessionID, err)
				continue
			}
			onEvent(ev)
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("relay: stream for session %s ended: %v", sessionID, err)
		}
	}()

	return cancel, nil
}
