package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/pkg/circuitbreaker"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

// Client talks to the external optical recognition engine over HTTP.
// The engine contract is recognize(image bytes) -> text.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	cb := circuitbreaker.New("ocr", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
	}
}

type recognizeResponse struct {
	Text string `json:"text"`
}

func (c *Client) Recognize(ctx context.Context, image []byte, contentType string) (string, error) {
	var text string

	err := c.cb.Execute(ctx, func() error {
		url := fmt.Sprintf("%s/recognize", c.baseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("ocr request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("ocr engine error: %d - %s", resp.StatusCode, string(body))
		}

		var result recognizeResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode ocr response: %w", err)
		}

		text = result.Text
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Debug("OCR completed", zap.Int("chars", len(text)))
	return text, nil
}
