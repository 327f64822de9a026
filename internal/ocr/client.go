// Package ocr calls the transcription sidecar that turns a joke crop into a
// first machine draft.
package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the OCR sidecar over HTTP.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{client: c}
}

type recognizeRequest struct {
	Image    string `json:"image"` // base64 PNG
	Language string `json:"language,omitempty"`
}

type recognizeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognize submits the crop and returns the recognized text. An empty result
// is not an error; the crop may genuinely hold no legible text.
func (c *Client) Recognize(ctx context.Context, cropPNG []byte) (string, error) {
	if len(cropPNG) == 0 {
		return "", fmt.Errorf("empty crop")
	}

	reqBody := recognizeRequest{
		Image:    base64.StdEncoding.EncodeToString(cropPNG),
		Language: "eng",
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&reqBody).
		Post("/recognize")
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ocr status %d: %s", resp.StatusCode(), resp.String())
	}

	var rr recognizeResponse
	if err := json.Unmarshal(resp.Body(), &rr); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return strings.TrimSpace(rr.Text), nil
}

// Document wraps recognized plain text into the rich text document shape the
// transcription fields use, one paragraph per line.
func Document(text string) json.RawMessage {
	type textNode struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	type paragraph struct {
		Type    string     `json:"type"`
		Content []textNode `json:"content,omitempty"`
	}
	doc := struct {
		Type    string      `json:"type"`
		Content []paragraph `json:"content"`
	}{Type: "doc"}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		p := paragraph{Type: "paragraph"}
		if line != "" {
			p.Content = []textNode{{Type: "text", Text: line}}
		}
		doc.Content = append(doc.Content, p)
	}
	if len(doc.Content) == 0 {
		doc.Content = []paragraph{{Type: "paragraph"}}
	}

	raw, _ := json.Marshal(doc)
	return raw
}
