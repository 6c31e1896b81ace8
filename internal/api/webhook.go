package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// WebhookNotifier fires event notifications at a configured URL.
// Deliveries are fire-and-forget: failures are logged and never
// surfaced to the request that triggered them.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *log.Logger
}

func NewWebhookNotifier(logger *log.Logger, url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger,
	}
}

func (n *WebhookNotifier) Notify(event string, data any) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(map[string]any{
		"event": event,
		"data":  data,
	})
	if err != nil {
		n.log.Printf("webhook marshal: %v", err)
		return
	}

	go func() {
		resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
		if err != nil {
			n.log.Printf("webhook post: %v", err)
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			n.log.Printf("webhook post: unexpected status %d", resp.StatusCode)
		}
	}()
}
