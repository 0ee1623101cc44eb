package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-pool/internal/models"
)

// HTTPPusher posts FCM HTTP v1 shaped JSON to a push endpoint using a
// server key or oauth token.
type HTTPPusher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewHTTPPusher(endpoint, key string) *HTTPPusher {
	return &HTTPPusher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *HTTPPusher) Notify(ctx context.Context, userID string, n models.Notification) error {
	body := map[string]any{"message": map[string]any{
		"token": userID,
		"notification": map[string]string{
			"title": string(n.Type),
			"body":  n.Message,
		},
		"data": n,
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
