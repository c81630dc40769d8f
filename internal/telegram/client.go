// Package telegram talks to the Bot API over long polling and routes
// chat commands to the session manager.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultAPIBase = "https://api.telegram.org"

// Client is a minimal Bot API client. Only the methods the bot needs
// are wrapped.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithAPIBase points the client at a different server, used by tests.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultAPIBase,
		http: &fasthttp.Client{
			ReadTimeout:     70 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 16,
		},
		defaultTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = c.baseURL + "/bot" + strings.TrimSpace(token)
	return c
}

// GetUpdates long-polls for up to timeoutSec seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	in := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	wait := c.defaultTimeout + time.Duration(timeoutSec)*time.Second
	if err := c.callJSON(ctx, "getUpdates", in, &updates, wait); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	in := map[string]any{"chat_id": chatID, "text": text}
	return c.callJSON(ctx, "sendMessage", in, nil, c.defaultTimeout)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (c *Client) callJSON(ctx context.Context, method string, in, out any, timeout time.Duration) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/" + method)
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req.SetBody(payload)

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !api.OK {
		return fmt.Errorf("%s: api error %d: %s", method, api.ErrorCode, api.Description)
	}
	if out != nil {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}
