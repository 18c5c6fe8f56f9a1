// Package gateway — HTTP-клиент chat-gateway, реализующий platform.Chat.
// Gateway прячет протокол конкретной чат-платформы; здесь только плоский
// REST: каналы, сообщения, треды, формы.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/platform"
)

// AwaitSlack — запас поверх серверного таймаута формы: gateway должен успеть
// ответить "timeout" сам, прежде чем long-poll оборвёт клиентский дедлайн.
const AwaitSlack = 15 * time.Second

// Client реализует platform.Chat поверх chat-gateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// awaitClient без общего таймаута: long-poll ограничивается дедлайном
	// контекста в AwaitSubmission.
	awaitClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		awaitClient: &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway: new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("gateway: %s %s: %w", method, path, platform.ErrChannelNotFound)
	case resp.StatusCode >= 300:
		return fmt.Errorf("gateway: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) FetchChannel(ctx context.Context, channelID string) (*platform.Channel, error) {
	var out platform.Channel
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/v1/channels/"+url.PathEscape(channelID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateChannel(ctx context.Context, req platform.CreateChannelRequest) (*platform.Channel, error) {
	var out platform.Channel
	if err := c.do(ctx, c.httpClient, http.MethodPost, "/v1/channels", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, c.httpClient, http.MethodDelete, "/v1/channels/"+url.PathEscape(channelID), nil, nil)
}

func (c *Client) ChannelOverwrites(ctx context.Context, channelID string) ([]platform.PermissionOverwrite, error) {
	var out []platform.PermissionOverwrite
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/v1/channels/"+url.PathEscape(channelID)+"/overwrites", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ChannelMessages(ctx context.Context, channelID string) ([]platform.InboundMessage, error) {
	var out []platform.InboundMessage
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/v1/channels/"+url.PathEscape(channelID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.Message) error {
	return c.do(ctx, c.httpClient, http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/messages", msg, nil)
}

func (c *Client) DirectMessage(ctx context.Context, userID string, msg platform.Message) error {
	return c.do(ctx, c.httpClient, http.MethodPost, "/v1/users/"+url.PathEscape(userID)+"/messages", msg, nil)
}

func (c *Client) CreateThread(ctx context.Context, channelID, name string, private bool) (*platform.Channel, error) {
	in := map[string]interface{}{"name": name, "private": private}
	var out platform.Channel
	if err := c.do(ctx, c.httpClient, http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/threads", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ShowPrompt(ctx context.Context, prompt platform.Prompt) error {
	return c.do(ctx, c.httpClient, http.MethodPost, "/v1/prompts", prompt, nil)
}

// awaitResponse — ответ long-poll ожидания формы.
type awaitResponse struct {
	Status     string               `json:"status"` // submitted | cancelled | timeout
	Submission *platform.Submission `json:"submission,omitempty"`
}

// AwaitSubmission ждёт отправку формы тем же пользователем. Отмена и таймаут
// мапятся на errs.ErrIntakeCancelled / errs.ErrIntakeTimeout; несовпадение
// корреляции считается отменой.
func (c *Client) AwaitSubmission(ctx context.Context, promptID, userID string, timeout time.Duration) (*platform.Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+AwaitSlack)
	defer cancel()

	path := "/v1/prompts/" + url.PathEscape(promptID) + "/submission" +
		"?user_id=" + url.QueryEscape(userID) +
		"&timeout_ms=" + strconv.FormatInt(timeout.Milliseconds(), 10)
	var out awaitResponse
	if err := c.do(ctx, c.awaitClient, http.MethodGet, path, nil, &out); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("await submission: %w", errs.ErrIntakeTimeout)
		}
		return nil, err
	}
	switch out.Status {
	case "submitted":
		sub := out.Submission
		if sub == nil || sub.PromptID != promptID || sub.UserID != userID {
			return nil, fmt.Errorf("await submission: correlation mismatch: %w", errs.ErrIntakeCancelled)
		}
		return sub, nil
	case "timeout":
		return nil, errs.ErrIntakeTimeout
	default:
		return nil, errs.ErrIntakeCancelled
	}
}
