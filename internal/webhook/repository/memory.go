package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
)

// MemoryRepository is the in-memory webhook store used by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	webhooks map[string]*models.BoardWebhook
	payloads map[string]*models.Payload
}

// NewMemory creates an empty in-memory webhook store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		webhooks: make(map[string]*models.BoardWebhook),
		payloads: make(map[string]*models.Payload),
	}
}

func (r *MemoryRepository) Create(_ context.Context, webhook *models.BoardWebhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if webhook.ID == "" {
		webhook.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now
	copied := *webhook
	r.webhooks[webhook.ID] = &copied
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.BoardWebhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	webhook, ok := r.webhooks[id]
	if !ok {
		return nil, apperrors.NotFound("webhook not found: %s", id)
	}
	copied := *webhook
	return &copied, nil
}

func (r *MemoryRepository) ListByBoard(_ context.Context, boardID string) ([]*models.BoardWebhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.BoardWebhook
	for _, webhook := range r.webhooks {
		if webhook.BoardID == boardID {
			copied := *webhook
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, webhook *models.BoardWebhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[webhook.ID]; !ok {
		return apperrors.NotFound("webhook not found: %s", webhook.ID)
	}
	webhook.UpdatedAt = time.Now().UTC()
	copied := *webhook
	r.webhooks[webhook.ID] = &copied
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[id]; !ok {
		return apperrors.NotFound("webhook not found: %s", id)
	}
	delete(r.webhooks, id)
	return nil
}

func (r *MemoryRepository) CreatePayload(_ context.Context, payload *models.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payload.ID == "" {
		payload.ID = uuid.New().String()
	}
	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = time.Now().UTC()
	}
	copied := *payload
	r.payloads[payload.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetPayload(_ context.Context, id string) (*models.Payload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payload, ok := r.payloads[id]
	if !ok {
		return nil, apperrors.NotFound("webhook payload not found: %s", id)
	}
	copied := *payload
	return &copied, nil
}

func (r *MemoryRepository) ListPayloads(_ context.Context, webhookID string, limit, offset int) ([]*models.Payload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Payload
	for _, payload := range r.payloads {
		if payload.WebhookID == webhookID {
			copied := *payload
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit <= 0 {
		limit = 100
	}
	if offset >= len(out) {
		return []*models.Payload{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) DeletePayloadsByWebhook(_ context.Context, webhookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, payload := range r.payloads {
		if payload.WebhookID == webhookID {
			delete(r.payloads, id)
		}
	}
	return nil
}

func (r *MemoryRepository) PayloadsReceivedSince(_ context.Context, cutoff time.Time) ([]*models.Payload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Payload
	for _, payload := range r.payloads {
		if !payload.ReceivedAt.Before(cutoff) {
			copied := *payload
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}
