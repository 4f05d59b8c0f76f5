package engage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// registryTTL keeps stale contact mappings from accumulating; active
// sessions refresh it on every register.
const registryTTL = 90 * 24 * time.Hour

// ErrUnknownContact is returned when an inbound message arrives from a phone
// number with no registered session.
var ErrUnknownContact = errors.New("no engagement session for contact")

// SessionRef identifies the pipeline record behind a contact.
type SessionRef struct {
	JobID       string `json:"jobId"`
	CandidateID string `json:"candidateId"`
}

// Registry maps a candidate's contact (phone number) to their active
// pipeline record, so webhook deliveries can be routed without a candidate
// lookup against the ATS on every message.
type Registry struct {
	rdb *redis.Client
}

// NewRegistry returns a Registry on the given client.
func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

func contactKey(contact string) string { return "engage:contact:" + contact }

// Register binds a contact to a record. Called when engagement begins and on
// every outbound message.
func (r *Registry) Register(ctx context.Context, contact string, ref SessionRef) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, contactKey(contact), raw, registryTTL).Err(); err != nil {
		return fmt.Errorf("register contact: %w", err)
	}
	return nil
}

// Resolve returns the record behind a contact.
func (r *Registry) Resolve(ctx context.Context, contact string) (SessionRef, error) {
	raw, err := r.rdb.Get(ctx, contactKey(contact)).Result()
	if errors.Is(err, redis.Nil) {
		return SessionRef{}, ErrUnknownContact
	}
	if err != nil {
		return SessionRef{}, fmt.Errorf("resolve contact: %w", err)
	}
	var ref SessionRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return SessionRef{}, fmt.Errorf("contact mapping corrupt: %w", err)
	}
	return ref, nil
}

// Drop removes a contact mapping (terminal states end the session).
func (r *Registry) Drop(ctx context.Context, contact string) error {
	return r.rdb.Del(ctx, contactKey(contact)).Err()
}
