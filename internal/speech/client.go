package speech

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Request describes one segment transcription call.
type Request struct {
	FilePath string

	// Language is an ISO code hint; empty or "auto" lets the service
	// detect the language.
	Language string
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Client talks to a whisper-style speech-recognition HTTP API.
type Client struct {
	http  *resty.Client
	model string
}

func NewClient(cfg Config) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Client{
		http:  client,
		model: cfg.Model,
	}
}

func (c *Client) Close() error {
	return c.http.Close()
}

// Transcribe uploads one audio segment and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	form := map[string]string{
		"model":           c.model,
		"response_format": "json",
	}
	if req.Language != "" && req.Language != "auto" {
		form["language"] = req.Language
	}

	var result transcriptionResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", req.FilePath).
		SetFormData(form).
		SetResult(&result).
		Post("/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}

	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("speech service status %d: %s", resp.StatusCode(), resp.String())
	}

	return result.Text, nil
}
