// Package verify — клиент сервиса верификации покупок. По токену из формы
// intake возвращает статус и список позиций либо типизированный отказ.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/errs"
)

// TokenPattern — форма токена верификации: префикс, длинный цифровой блок,
// суффикс (например "tbx-12345678901234-abc"). Используется и для
// предварительной проверки, и для распознавания токенов в ответах формы
// при рендеринге.
var TokenPattern = regexp.MustCompile(`^[A-Za-z]{2,4}-[0-9]{8,20}-[A-Za-z0-9]{2,16}$`)

// Item — одна позиция подтверждённой покупки.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Result — успешный ответ сервиса верификации.
type Result struct {
	Status string `json:"status"`
	Items  []Item `json:"items"`
}

// Summary — краткая сводка для показа вместо сырого токена.
func (r *Result) Summary() string {
	var b strings.Builder
	b.WriteString("Status: ")
	b.WriteString(r.Status)
	if len(r.Items) > 0 {
		b.WriteString("\nItems: ")
		for i, it := range r.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			if it.Quantity > 1 {
				fmt.Fprintf(&b, "%dx %s", it.Quantity, it.Name)
			} else {
				b.WriteString(it.Name)
			}
		}
	}
	return b.String()
}

// Verifier — интерфейс для воркфлоу intake (подменяется моком в тестах).
type Verifier interface {
	Lookup(ctx context.Context, token string) (*Result, error)
}

// Client ходит в verify-service по HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Lookup проверяет токен. Некорректная форма, отсутствие или отказ сервиса
// по токену — errs.ErrVerificationFailed; сетевые и 5xx ошибки — как есть.
func (c *Client) Lookup(ctx context.Context, token string) (*Result, error) {
	if !TokenPattern.MatchString(token) {
		return nil, fmt.Errorf("%w: malformed token", errs.ErrVerificationFailed)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: verify service is not configured", errs.ErrVerificationFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/verify/"+url.PathEscape(token), nil)
	if err != nil {
		return nil, fmt.Errorf("verify: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify: request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		var out Result
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("verify: decode response: %w", err)
		}
		return &out, nil
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: token rejected", errs.ErrVerificationFailed)
	default:
		return nil, fmt.Errorf("verify: unexpected status %d", resp.StatusCode)
	}
}
