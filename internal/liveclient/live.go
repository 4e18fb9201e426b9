package liveclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"nhooyr.io/websocket"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/livesync"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// readLimit bounds one notification frame.
const readLimit = 1 << 20

var heartbeatFrame = []byte(`{"type":"heartbeat"}`)

// Connect opens the live WebSocket for a match and returns once the server
// has subscribed it. Notifications are decoded and passed to h from the
// link's read goroutine.
func (c *Client) Connect(ctx context.Context, matchID string, h broadcast.Handler) (livesync.Link, error) {
	u := *c.base
	u.Scheme = map[string]string{"http": "ws", "https": "wss"}[u.Scheme]
	u.Path += "/api/matches/" + url.PathEscape(matchID) + "/live"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	// The handshake is bounded by ctx; a client-wide timeout would also
	// cut the upgraded connection.
	hc := *c.http
	hc.Timeout = 0
	dialCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, responseError(resp)
		}
		return nil, fmt.Errorf("%w: dialing live socket: %v", match.ErrConnectivity, err)
	}
	conn.SetReadLimit(readLimit)

	l := &wsLink{conn: conn, done: make(chan struct{}), logger: c.logger}
	if err := l.awaitReady(dialCtx, h); err != nil {
		conn.CloseNow()
		return nil, err
	}
	go l.read(h)
	return l, nil
}

// awaitReady reads until the server confirms its subscription. Anything
// sent before that is passed on to h.
func (l *wsLink) awaitReady(ctx context.Context, h broadcast.Handler) error {
	for {
		_, data, err := l.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("waiting for live socket: %w", closeError(err))
		}
		var n broadcast.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			l.logger.Warn("dropping undecodable notification", "error", err)
			continue
		}
		if n.Kind == broadcast.KindReady {
			return nil
		}
		h(n)
	}
}

type wsLink struct {
	conn   *websocket.Conn
	done   chan struct{}
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

func (l *wsLink) read(h broadcast.Handler) {
	defer close(l.done)
	for {
		_, data, err := l.conn.Read(context.Background())
		if err != nil {
			l.mu.Lock()
			l.err = closeError(err)
			l.mu.Unlock()
			return
		}
		var n broadcast.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			l.logger.Warn("dropping undecodable notification", "error", err)
			n = broadcast.Notification{Kind: broadcast.KindResync}
		}
		h(n)
	}
}

func (l *wsLink) Heartbeat(ctx context.Context) error {
	if err := l.conn.Write(ctx, websocket.MessageText, heartbeatFrame); err != nil {
		return fmt.Errorf("%w: sending heartbeat: %v", match.ErrConnectivity, err)
	}
	return nil
}

func (l *wsLink) Done() <-chan struct{} { return l.done }

func (l *wsLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close performs the close handshake, on which the server ends presence,
// and waits for the read goroutine.
func (l *wsLink) Close() error {
	err := l.conn.Close(websocket.StatusNormalClosure, "")
	<-l.done
	return err
}

// closeError maps the server's close frame to an error kind. A policy
// violation carries the error code as its reason.
func closeError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.StatusPolicyViolation {
			if kind := match.ErrorForCode(ce.Reason); kind != nil {
				return fmt.Errorf("%w: live socket closed by server", kind)
			}
		}
		return fmt.Errorf("%w: live socket closed (%d %s)", match.ErrConnectivity, ce.Code, ce.Reason)
	}
	return fmt.Errorf("%w: %v", match.ErrConnectivity, err)
}
