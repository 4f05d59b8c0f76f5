package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"zodiac/pipeline-service/internal/orchestrator"
	"zodiac/pipeline-service/internal/pipeline"
)

// CalendarClient books meetings through a calendar REST API. Implements the
// orchestrator.Calendar contract.
type CalendarClient struct {
	baseURL  string
	apiKey   string
	calendar string
	http     *http.Client
}

// NewCalendarClient returns a client for the given calendar.
func NewCalendarClient(baseURL, apiKey, calendar string) *CalendarClient {
	return &CalendarClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		calendar: calendar,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateMeeting creates the event and returns its id. The first proposed
// slot is booked; slot negotiation happens upstream in the engagement flow.
func (c *CalendarClient) CreateMeeting(ctx context.Context, m orchestrator.Meeting) (string, error) {
	if len(m.ProposedSlots) == 0 {
		return "", &pipeline.DeliveryError{Channel: "calendar", Err: fmt.Errorf("no proposed slots")}
	}
	body, err := json.Marshal(map[string]any{
		"summary":   m.Subject,
		"start":     m.ProposedSlots[0],
		"attendees": m.Attendees,
		"mode":      m.Mode,
	})
	if err != nil {
		return "", &pipeline.DeliveryError{Channel: "calendar", Err: err}
	}

	url := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, c.calendar)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &pipeline.DeliveryError{Channel: "calendar", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &pipeline.DeliveryError{Channel: "calendar", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &pipeline.DeliveryError{
			Channel: "calendar",
			Err:     fmt.Errorf("create event: status %d: %s", resp.StatusCode, raw),
		}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &pipeline.DeliveryError{Channel: "calendar", Err: fmt.Errorf("decode event response: %w", err)}
	}
	return out.ID, nil
}
