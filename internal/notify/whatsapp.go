// Package notify holds the notification-channel collaborators: an outbound
// messenger (WhatsApp Cloud API shape) and a calendar client. The core
// depends on them only through the Send / CreateMeeting contracts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"zodiac/pipeline-service/internal/pipeline"
)

// WhatsAppClient sends text messages through a Cloud-API-style endpoint and
// parses inbound webhook payloads.
type WhatsAppClient struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	verifyToken   string
	http          *http.Client
}

// NewWhatsAppClient returns a configured client.
func NewWhatsAppClient(baseURL, phoneNumberID, accessToken, verifyToken string) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		verifyToken:   verifyToken,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers a text message and returns the provider's message id.
// Implements the orchestrator and engage Messenger contracts.
func (c *WhatsAppClient) Send(ctx context.Context, recipient, payload string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": payload},
	})
	if err != nil {
		return "", &pipeline.DeliveryError{Channel: "whatsapp", Err: err}
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &pipeline.DeliveryError{Channel: "whatsapp", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &pipeline.DeliveryError{Channel: "whatsapp", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &pipeline.DeliveryError{
			Channel: "whatsapp",
			Err:     fmt.Errorf("send message: status %d: %s", resp.StatusCode, raw),
		}
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &pipeline.DeliveryError{Channel: "whatsapp", Err: fmt.Errorf("decode send response: %w", err)}
	}
	if len(out.Messages) == 0 {
		return "", &pipeline.DeliveryError{Channel: "whatsapp", Err: fmt.Errorf("send response carried no message id")}
	}
	return out.Messages[0].ID, nil
}

// VerifyWebhook answers the provider's subscription challenge. Returns the
// challenge string to echo, or false when the token does not match.
func (c *WhatsAppClient) VerifyWebhook(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && token == c.verifyToken {
		return challenge, true
	}
	return "", false
}

// InboundMessage is one parsed inbound text message.
type InboundMessage struct {
	From string
	Text string
}

// ParseWebhookPayload extracts the first inbound text message from a Cloud
// API webhook body. Returns false for status-only or non-text payloads.
func ParseWebhookPayload(body []byte) (InboundMessage, bool) {
	var payload struct {
		Entry []struct {
			Changes []struct {
				Value struct {
					Messages []struct {
						From string `json:"from"`
						Type string `json:"type"`
						Text struct {
							Body string `json:"body"`
						} `json:"text"`
					} `json:"messages"`
				} `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return InboundMessage{}, false
	}
	for _, e := range payload.Entry {
		for _, ch := range e.Changes {
			for _, m := range ch.Value.Messages {
				if m.Type == "text" && m.Text.Body != "" {
					return InboundMessage{From: m.From, Text: m.Text.Body}, true
				}
			}
		}
	}
	return InboundMessage{}, false
}
