// Package service implements webhook configuration, payload ingest,
// and the queued lead-notification pipeline.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/config"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/stringutil"
	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/queue"
	webhookrepo "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/repository"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// Dialer resolves a caller for a gateway record.
type Dialer interface {
	CallerFor(gateway *gatewaymodels.Gateway) rpc.Caller
}

// Service handles webhook CRUD and the ingest pipeline.
type Service struct {
	webhooks webhookrepo.Repository
	boards   boardrepo.Repository
	agents   agentrepo.Repository
	gateways gatewayrepo.Repository
	activity activityrepo.Repository
	queue    *queue.Queue
	dialer   Dialer
	cfg      config.WebhookConfig
	baseURL  string
	log      *logger.Logger
}

// NewService wires the webhook service.
func NewService(
	webhooks webhookrepo.Repository,
	boards boardrepo.Repository,
	agents agentrepo.Repository,
	gateways gatewayrepo.Repository,
	activity activityrepo.Repository,
	q *queue.Queue,
	dialer Dialer,
	cfg config.WebhookConfig,
	baseURL string,
	log *logger.Logger,
) *Service {
	return &Service{
		webhooks: webhooks,
		boards:   boards,
		agents:   agents,
		gateways: gateways,
		activity: activity,
		queue:    q,
		dialer:   dialer,
		cfg:      cfg,
		baseURL:  baseURL,
		log:      log,
	}
}

// CreateWebhookInput carries new-webhook fields.
type CreateWebhookInput struct {
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
}

// Create registers a webhook on a board.
func (s *Service) Create(ctx context.Context, actor *authservice.Actor, boardID string, in CreateWebhookInput) (*models.BoardWebhook, error) {
	if !actor.BoardAccess(boardID, true) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	name, ok := stringutil.TrimNonEmpty(in.Name)
	if !ok {
		return nil, apperrors.ValidationError("webhook name is required")
	}
	if _, err := s.boards.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	webhook := &models.BoardWebhook{
		BoardID:     boardID,
		Name:        name,
		Instruction: in.Instruction,
		Enabled:     true,
	}
	if err := s.webhooks.Create(ctx, webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

// List returns a board's webhooks.
func (s *Service) List(ctx context.Context, actor *authservice.Actor, boardID string) ([]*models.BoardWebhook, error) {
	if !actor.BoardAccess(boardID, false) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	return s.webhooks.ListByBoard(ctx, boardID)
}

// UpdateWebhookInput carries webhook patches.
type UpdateWebhookInput struct {
	Name        *string `json:"name"`
	Instruction *string `json:"instruction"`
	Enabled     *bool   `json:"enabled"`
}

// Update patches a webhook.
func (s *Service) Update(ctx context.Context, actor *authservice.Actor, id string, in UpdateWebhookInput) (*models.BoardWebhook, error) {
	webhook, err := s.webhooks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.BoardAccess(webhook.BoardID, true) {
		return nil, apperrors.NotFound("webhook not found: %s", id)
	}
	if in.Name != nil {
		name, ok := stringutil.TrimNonEmpty(*in.Name)
		if !ok {
			return nil, apperrors.ValidationError("webhook name is required")
		}
		webhook.Name = name
	}
	if in.Instruction != nil {
		webhook.Instruction = *in.Instruction
	}
	if in.Enabled != nil {
		webhook.Enabled = *in.Enabled
	}
	if err := s.webhooks.Update(ctx, webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

// Delete removes a webhook together with its captured payloads.
func (s *Service) Delete(ctx context.Context, actor *authservice.Actor, id string) error {
	webhook, err := s.webhooks.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.BoardAccess(webhook.BoardID, true) {
		return apperrors.NotFound("webhook not found: %s", id)
	}
	if err := s.webhooks.DeletePayloadsByWebhook(ctx, id); err != nil {
		return err
	}
	return s.webhooks.Delete(ctx, id)
}

// ListPayloads returns captured payloads for a webhook, newest first.
func (s *Service) ListPayloads(ctx context.Context, actor *authservice.Actor, webhookID string, limit, offset int) ([]*models.Payload, error) {
	webhook, err := s.webhooks.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if !actor.BoardAccess(webhook.BoardID, false) {
		return nil, apperrors.NotFound("webhook not found: %s", webhookID)
	}
	return s.webhooks.ListPayloads(ctx, webhookID, limit, offset)
}

// GetPayload returns one captured payload.
func (s *Service) GetPayload(ctx context.Context, actor *authservice.Actor, id string) (*models.Payload, error) {
	payload, err := s.webhooks.GetPayload(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.BoardAccess(payload.BoardID, false) {
		return nil, apperrors.NotFound("payload not found: %s", id)
	}
	return payload, nil
}

// IngestResult is the 202 body of the open ingest endpoint.
type IngestResult struct {
	PayloadID string `json:"payload_id"`
}

// Ingest captures an inbound delivery: it decodes the body, persists
// the payload and a tagged board memory row, and queues the lead
// notification. The endpoint is unauthenticated; the webhook id is the
// capability.
func (s *Service) Ingest(ctx context.Context, boardID, webhookID string, body []byte, contentType string, headers map[string]string, sourceIP string) (*IngestResult, error) {
	webhook, err := s.webhooks.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if webhook.BoardID != boardID {
		return nil, apperrors.NotFound("webhook not found: %s", webhookID)
	}
	if !webhook.Enabled {
		return nil, apperrors.Gone("webhook %s is disabled", webhookID)
	}

	payload := &models.Payload{
		WebhookID:   webhookID,
		BoardID:     boardID,
		Body:        decodeBody(body, contentType),
		ContentType: contentType,
		Headers:     capturedHeaders(headers),
		SourceIP:    sourceIP,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := s.webhooks.CreatePayload(ctx, payload); err != nil {
		return nil, err
	}

	memory := &boardmodels.BoardMemory{
		BoardID: boardID,
		Content: fmt.Sprintf("WEBHOOK PAYLOAD RECEIVED on %q: %s\nInspect: %s/api/v1/webhooks/payloads/%s",
			webhook.Name, payloadPreview(payload.Body), s.baseURL, payload.ID),
		IsChat: false,
		Source: "webhook",
		Tags: db.StringList{
			"webhook",
			"webhook:" + webhookID,
			"payload:" + payload.ID,
		},
	}
	if err := s.boards.CreateMemory(ctx, memory); err != nil {
		return nil, err
	}
	s.record(ctx, events.WebhookReceived, payload.ID,
		fmt.Sprintf("Webhook %q received payload %s.", webhook.Name, payload.ID))

	delivery := &models.Delivery{
		BoardID:    boardID,
		WebhookID:  webhookID,
		PayloadID:  payload.ID,
		ReceivedAt: payload.ReceivedAt,
	}
	if !s.queue.Enqueue(delivery) {
		// Queue full. Notify synchronously so the delivery is not lost.
		s.log.WithBoardID(boardID).Warn("delivery queue full, notifying synchronously")
		if err := s.NotifyLead(ctx, delivery); err != nil {
			s.log.WithError(err).WithBoardID(boardID).Warn("synchronous lead notification failed")
		}
	}
	return &IngestResult{PayloadID: payload.ID}, nil
}

// NotifyLead sends the structured webhook instruction to the board
// lead's session.
func (s *Service) NotifyLead(ctx context.Context, delivery *models.Delivery) error {
	webhook, err := s.webhooks.Get(ctx, delivery.WebhookID)
	if err != nil {
		return err
	}
	payload, err := s.webhooks.GetPayload(ctx, delivery.PayloadID)
	if err != nil {
		return err
	}
	board, err := s.boards.GetBoard(ctx, delivery.BoardID)
	if err != nil {
		return err
	}
	lead, err := s.agents.FindBoardLead(ctx, delivery.BoardID)
	if err != nil {
		return fmt.Errorf("board %s has no lead: %w", delivery.BoardID, err)
	}
	if board.GatewayID == nil {
		return fmt.Errorf("board %q has no gateway attached", board.Name)
	}
	gateway, err := s.gateways.Get(ctx, *board.GatewayID)
	if err != nil {
		return err
	}

	instruction := webhook.Instruction
	if instruction == "" {
		instruction = "Review the payload and act on it."
	}
	sessionKey := leadSessionKey(lead.OpenClawSessionID, lead.Name)
	text := fmt.Sprintf(
		"WEBHOOK %q DELIVERED A PAYLOAD\n%s\nPreview: %s\nInspect: %s/api/v1/webhooks/payloads/%s",
		webhook.Name, instruction, payloadPreview(payload.Body), s.baseURL, payload.ID)
	if err := rpc.SendMessage(ctx, s.dialer.CallerFor(gateway), sessionKey, text, false); err != nil {
		s.record(ctx, events.WebhookDispatchFailed, payload.ID,
			fmt.Sprintf("Dispatch of payload %s to %s failed: %v", payload.ID, lead.Name, err))
		return err
	}
	s.record(ctx, events.WebhookDispatchSuccess, payload.ID,
		fmt.Sprintf("Payload %s dispatched to %s.", payload.ID, lead.Name))
	return nil
}

func leadSessionKey(stored *string, name string) string {
	if stored != nil && *stored != "" {
		return *stored
	}
	return "agent:" + stringutil.Slugify(name) + ":main"
}

func (s *Service) record(ctx context.Context, eventType, payloadID, message string) {
	event := &activitymodels.ActivityEvent{EventType: eventType, Message: message, PayloadID: &payloadID}
	if err := s.activity.Append(ctx, event); err != nil {
		s.log.WithError(err).Warn("activity append failed")
	}
}

// decodeBody parses JSON-shaped bodies and keeps everything else as the
// raw string. A body is JSON-shaped when the content type says so or
// when it starts like a JSON value.
func decodeBody(body []byte, contentType string) db.JSONValue {
	raw := string(body)
	if !looksLikeJSON(raw, contentType) {
		return db.JSONValue{V: raw}
	}
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return db.JSONValue{V: raw}
	}
	return db.JSONValue{V: decoded}
}

func looksLikeJSON(body, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	trimmed := strings.TrimSpace(body)
	for _, prefix := range []string{"{", "[", `"`, "true", "false"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// capturedHeaders keeps content-type, user-agent, and x-* headers.
func capturedHeaders(headers map[string]string) db.JSONMap {
	kept := db.JSONMap{}
	for name, value := range headers {
		lower := strings.ToLower(name)
		if lower == "content-type" || lower == "user-agent" || strings.HasPrefix(lower, "x-") {
			kept[lower] = value
		}
	}
	return kept
}

// payloadPreview renders a short single-line preview of the payload.
func payloadPreview(body db.JSONValue) string {
	data, err := json.Marshal(body.V)
	if err != nil {
		return "(unrenderable payload)"
	}
	preview := string(data)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return preview
}
