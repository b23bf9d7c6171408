/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/example/boardpulse/internal/config"
    "github.com/rs/zerolog"
)

// maxMessageLen is Telegram's hard cap per sendMessage call; longer digests
// are split on line boundaries.
const maxMessageLen = 4096

type Client struct {
    token string
    http  *http.Client
    log   zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{token: cfg.TelegramToken, http: &http.Client{Timeout: 10 * time.Second}, log: log}
}

func (c *Client) call(ctx context.Context, method string, body map[string]any, out any) error {
    if c.token == "" { return fmt.Errorf("telegram: missing token") }
    url := fmt.Sprintf("https://api.telegram.org/bot%s/%s", c.token, method)
    b, _ := json.Marshal(body)
    req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        bodyBytes, _ := io.ReadAll(resp.Body)
        return fmt.Errorf("telegram %s status=%d body=%s", method, resp.StatusCode, string(bodyBytes))
    }
    if out != nil {
        return json.NewDecoder(resp.Body).Decode(out)
    }
    return nil
}

func (c *Client) send(ctx context.Context, chatID int64, text, parseMode string) error {
    if chatID == 0 { return fmt.Errorf("telegram: missing chat id") }
    for _, chunk := range splitMessage(text) {
        body := map[string]any{"chat_id": chatID, "text": chunk, "disable_web_page_preview": true}
        if parseMode != "" { body["parse_mode"] = parseMode }
        if err := c.call(ctx, "sendMessage", body, nil); err != nil { return err }
    }
    return nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
    return c.send(ctx, chatID, text, "Markdown")
}

// SendMessagePlain sends without parse_mode to avoid markdown parsing errors
func (c *Client) SendMessagePlain(ctx context.Context, chatID int64, text string) error {
    return c.send(ctx, chatID, text, "")
}

// SendMarkdownV2 sends a message using MarkdownV2 parse mode.
func (c *Client) SendMarkdownV2(ctx context.Context, chatID int64, text string) error {
    return c.send(ctx, chatID, text, "MarkdownV2")
}

func (c *Client) ResolveUsername(ctx context.Context, username string) (int64, error) {
    if username == "" { return 0, fmt.Errorf("telegram: missing username") }
    var r struct {
        OK     bool `json:"ok"`
        Result struct {
            ID int64 `json:"id"`
        } `json:"result"`
    }
    if err := c.call(ctx, "getChat", map[string]any{"chat_id": username}, &r); err != nil { return 0, err }
    if !r.OK || r.Result.ID == 0 { return 0, fmt.Errorf("telegram: invalid getChat response") }
    return r.Result.ID, nil
}

// SetWebhook registers the webhook URL and secret with Telegram
func (c *Client) SetWebhook(ctx context.Context, webhookURL string, secretToken string) error {
    if webhookURL == "" || secretToken == "" { return fmt.Errorf("telegram: missing url or secret") }
    return c.call(ctx, "setWebhook", map[string]any{
        "url":                  webhookURL,
        "secret_token":         secretToken,
        "drop_pending_updates": true,
        "allowed_updates":      []string{"message", "callback_query"},
    }, nil)
}

// splitMessage cuts text into chunks under the Telegram limit, preferring
// newline boundaries so report sections stay intact.
func splitMessage(text string) []string {
    if len(text) <= maxMessageLen { return []string{text} }
    var out []string
    for len(text) > maxMessageLen {
        cut := maxMessageLen
        for i := maxMessageLen; i > maxMessageLen/2; i-- {
            if text[i-1] == '\n' {
                cut = i
                break
            }
        }
        out = append(out, text[:cut])
        text = text[cut:]
    }
    if text != "" { out = append(out, text) }
    return out
}
