// Package chatapi wraps the backend chat REST contract. It is consulted at
// cold start and whenever the realtime channel is unavailable.
package chatapi

import (
	"ShopChat/entity"
	"ShopChat/internal/lib/sl"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var ErrUnauthenticated = errors.New("no bearer credential")

// Error is a non-2xx answer from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type TokenSource interface {
	Token() (string, bool)
}

type Options struct {
	BaseURL         string
	Role            entity.Role
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	HTTPClient      *http.Client
}

type Client struct {
	baseURL    string
	role       entity.Role
	http       *http.Client
	maxElapsed time.Duration
	tokens     TokenSource
	log        *slog.Logger
}

func New(opts Options, tokens TokenSource, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		role:       opts.Role,
		http:       opts.HTTPClient,
		maxElapsed: opts.RetryMaxElapsed,
		tokens:     tokens,
		log:        log.With(sl.Module("chat api")),
	}
}

// Role is the viewpoint messages are resolved for.
func (c *Client) Role() entity.Role {
	return c.role
}

type call struct {
	method string
	path   string
	query  url.Values
	body   interface{}
	out    interface{}
	retry  bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	token, ok := "", false
	if c.tokens != nil {
		token, ok = c.tokens.Token()
	}
	if !ok {
		return ErrUnauthenticated
	}

	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var payload []byte
	if cl.body != nil {
		var err error
		payload, err = json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", cl.path, err)
		}
	}

	requestID := uuid.NewString()
	log := c.log.With(
		slog.String("method", cl.method),
		slog.String("path", cl.path),
		slog.String("request_id", requestID),
	)

	operation := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := newError(resp.StatusCode, raw)
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err = json.Unmarshal(raw, cl.out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", cl.path, err))
		}
		return nil
	}

	var err error
	if cl.retry {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 200 * time.Millisecond
		if c.maxElapsed > 0 {
			policy.MaxElapsedTime = c.maxElapsed
		}
		err = backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
			log.With(sl.Err(err), slog.Duration("wait", wait)).Debug("retrying request")
		})
	} else {
		err = operation()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}
	if err != nil {
		log.With(sl.Err(err)).Warn("request failed")
	}
	return err
}

// newError picks the server-provided message from the usual fields.
func newError(status int, raw []byte) *Error {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(raw, &body) == nil {
		for _, m := range []string{body.Detail, body.Message, body.Error} {
			if strings.TrimSpace(m) != "" {
				msg = m
				break
			}
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	return &Error{Status: status, Message: msg}
}

// list accepts both a bare array and a paginated {"results": [...]} body.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(b, &page); err != nil {
		return err
	}
	*l = page.Results
	return nil
}
