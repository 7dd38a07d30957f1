package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-trustgate/internal/domain"
)

type getMeResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		Username string `json:"username"`
	} `json:"result"`
}

// Client resolves the bot's public username. A configured username wins;
// otherwise the Bot API getMe method is called once and the answer cached.
type Client struct {
	baseURL  string
	token    string
	username string
	http     *http.Client

	mu     sync.Mutex
	cached string
}

func NewClient(baseURL, botToken, username string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    botToken,
		username: strings.TrimPrefix(strings.TrimSpace(username), "@"),
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) BotUsername(ctx context.Context) (string, error) {
	if c.username != "" {
		return c.username, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != "" {
		return c.cached, nil
	}
	if c.token == "" {
		return "", fmt.Errorf("neither bot username nor bot token set: %w", domain.ErrConfiguration)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bot"+c.token+"/getMe", nil)
	if err != nil {
		return "", fmt.Errorf("build getMe request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of the error.
		return "", fmt.Errorf("telegram getMe: %w", domain.ErrTransportUnavailable)
	}
	defer resp.Body.Close()

	var out getMeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode getMe response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK || out.Result.Username == "" {
		return "", fmt.Errorf("telegram getMe rejected: %s: %w", out.Description, domain.ErrConfiguration)
	}
	c.cached = out.Result.Username
	return c.cached, nil
}
