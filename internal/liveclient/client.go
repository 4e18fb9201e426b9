// Package liveclient talks to the match server over HTTP and its live
// WebSocket. A Client is a livesync Source, Commander and Transport.
package liveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

const defaultTimeout = 10 * time.Second

type Options struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	Token   string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{base: base, token: opts.Token, http: opts.HTTPClient, logger: opts.Logger}, nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) Snapshot(ctx context.Context, matchID string, since uint64) (match.Snapshot, error) {
	path := "/api/matches/" + url.PathEscape(matchID) + "/snapshot"
	if since > 0 {
		path += "?since=" + strconv.FormatUint(since, 10)
	}
	var snap match.Snapshot
	err := c.do(ctx, http.MethodGet, path, nil, &snap)
	return snap, err
}

func (c *Client) SubmitPlay(ctx context.Context, matchID string, play match.Play) (match.Event, error) {
	var ev match.Event
	err := c.do(ctx, http.MethodPost, "/api/matches/"+url.PathEscape(matchID)+"/plays", play, &ev)
	return ev, err
}

func (c *Client) TransitionStatus(ctx context.Context, matchID string, to match.Status) (match.Match, error) {
	var m match.Match
	body := struct {
		Status match.Status `json:"status"`
	}{to}
	err := c.do(ctx, http.MethodPost, "/api/matches/"+url.PathEscape(matchID)+"/status", body, &m)
	return m, err
}

// UndoLastPlay removes the newest event if it is still expectedEventID.
func (c *Client) UndoLastPlay(ctx context.Context, matchID, expectedEventID string) (bool, error) {
	path := "/api/matches/" + url.PathEscape(matchID) + "/plays/last"
	if expectedEventID != "" {
		path += "?eventId=" + url.QueryEscape(expectedEventID)
	}
	var res struct {
		Undone bool `json:"undone"`
	}
	err := c.do(ctx, http.MethodDelete, path, nil, &res)
	return res.Undone, err
}

// Heartbeat renews presence over plain HTTP.
func (c *Client) Heartbeat(ctx context.Context, matchID string) ([]match.PresenceRecord, error) {
	var res struct {
		Present []match.PresenceRecord `json:"present"`
	}
	err := c.do(ctx, http.MethodPost, "/api/matches/"+url.PathEscape(matchID)+"/heartbeat", nil, &res)
	return res.Present, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", match.ErrConnectivity, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %v", match.ErrConnectivity, method, path, err)
	}
	return nil
}

// responseError rebuilds the server's error kind from a failed response.
func responseError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	if kind := match.ErrorForCode(body.Code); kind != nil {
		return fmt.Errorf("%w: %s", kind, body.Error)
	}
	return statusError(resp.StatusCode, body.Error)
}

// statusError classifies a response that carries no error code. A rejected
// token will not start working by retrying, so it is treated as permanent.
func statusError(status int, msg string) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", match.ErrPermissionDenied, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", match.ErrNotFound, msg)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", match.ErrConflict, msg)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %s", match.ErrValidation, msg)
	}
	return fmt.Errorf("%w: %s", match.ErrConnectivity, msg)
}
