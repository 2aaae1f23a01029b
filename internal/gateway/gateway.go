// Package gateway renders and sends requests to the external WhatsApp
// messaging gateway. Credentials come from the environment, never from
// the config file.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"promobot/internal/task"
)

var (
	ErrStatus        = errors.New("gateway rejected request")
	ErrBundleNotSent = errors.New("bundle tasks are expanded by the worker, not sent directly")
)

// Env holds the gateway credentials and endpoint, parsed from the
// process environment.
type Env struct {
	Token         string `env:"WHATSAPP_TOKEN,required"`
	PhoneNumberID string `env:"PHONE_NUMBER_ID,required"`
	APIBase       string `env:"WHATSAPP_API_BASE" envDefault:"https://partnersv1.pinbot.ai/v3"`
}

func EnvConfig() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("gateway env: %w", err)
	}
	return e, nil
}

type Client struct {
	http  *http.Client
	url   string
	token string
	log   zerolog.Logger
}

// NewClient builds a client with a fixed per-request timeout. The
// worker passes a per-attempt context on top of it.
func NewClient(e Env, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:  &http.Client{Timeout: timeout},
		url:   strings.TrimRight(e.APIBase, "/") + "/" + e.PhoneNumberID + "/messages",
		token: e.Token,
		log:   log,
	}
}

// Send performs one gateway call for one task. Bundles are rejected;
// the worker executes their items one by one.
func (c *Client) Send(ctx context.Context, t task.Task) error {
	payload, err := renderPayload(t)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrStatus, resp.Status, strings.TrimSpace(string(snippet)))
	}
	c.log.Debug().Str("kind", string(t.Kind)).Str("to", t.To).Int("status", resp.StatusCode).Msg("sent")
	return nil
}

func renderPayload(t task.Task) (map[string]any, error) {
	base := map[string]any{
		"messaging_product": "whatsapp",
		"to":                t.To,
	}
	switch t.Kind {
	case task.KindText:
		base["type"] = "text"
		base["text"] = map[string]any{"body": t.Text}
	case task.KindImage:
		base["type"] = "image"
		base["image"] = map[string]any{"link": t.ImageURL, "caption": t.Caption}
	case task.KindList:
		rows := make([]map[string]any, 0, len(t.List.Rows))
		for _, r := range t.List.Rows {
			row := map[string]any{"id": r.ID, "title": r.Title}
			if r.Description != "" {
				row["description"] = r.Description
			}
			rows = append(rows, row)
		}
		base["type"] = "interactive"
		base["interactive"] = map[string]any{
			"type": "list",
			"body": map[string]any{"text": t.List.Body},
			"action": map[string]any{
				"button":   t.List.Button,
				"sections": []map[string]any{{"title": t.List.Button, "rows": rows}},
			},
		}
	case task.KindBundle:
		return nil, ErrBundleNotSent
	default:
		return nil, fmt.Errorf("%w: kind %q", task.ErrInvalidTask, t.Kind)
	}
	return base, nil
}
