package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authmodels "github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/config"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/queue"
	webhookrepo "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/repository"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

type sentMessage struct {
	Key  string
	Text string
}

// fakeCaller records sessions.send calls and optionally fails them.
type fakeCaller struct {
	sent     []sentMessage
	sendErr  error
	attempts int
}

func (f *fakeCaller) Call(_ context.Context, method string, params, result interface{}) error {
	if method != rpc.MethodSessionsSend {
		return &rpc.MethodError{Method: method, Message: "unknown method"}
	}
	f.attempts++
	if f.sendErr != nil {
		return f.sendErr
	}
	raw, _ := json.Marshal(params)
	var p struct {
		SessionKey string `json:"sessionKey"`
		Message    string `json:"message"`
	}
	_ = json.Unmarshal(raw, &p)
	f.sent = append(f.sent, sentMessage{Key: p.SessionKey, Text: p.Message})
	return nil
}

type fakeDialer struct{ caller *fakeCaller }

func (d fakeDialer) CallerFor(_ *gatewaymodels.Gateway) rpc.Caller { return d.caller }

type webhookFixture struct {
	svc      *Service
	queue    *queue.Queue
	caller   *fakeCaller
	webhooks *webhookrepo.MemoryRepository
	boards   *boardrepo.MemoryRepository
	activity *activityrepo.MemoryRepository
	board    *boardmodels.Board
	webhook  *models.BoardWebhook
	lead     *agentmodels.Agent
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Default()

	webhooks := webhookrepo.NewMemory()
	boards := boardrepo.NewMemory()
	agents := agentrepo.NewMemory()
	gateways := gatewayrepo.NewMemory()
	activity := activityrepo.NewMemory()
	caller := &fakeCaller{}
	q := queue.New(8)

	gateway := &gatewaymodels.Gateway{
		OrganizationID: "org-1", Name: "garden", URL: "ws://garden:4180",
		MainSessionKey: "main", WorkspaceRoot: "/ws",
	}
	require.NoError(t, gateways.Create(ctx, gateway))

	board := &boardmodels.Board{Name: "Greenhouse", GatewayID: &gateway.ID}
	require.NoError(t, boards.CreateBoard(ctx, board))

	leadKey := "agent:alpha:main"
	lead := &agentmodels.Agent{BoardID: &board.ID, Name: "Alpha", IsBoardLead: true, OpenClawSessionID: &leadKey}
	require.NoError(t, agents.Create(ctx, lead))

	cfg := config.WebhookConfig{QueueCapacity: 8, MaxAttempts: 3, ReconcileAfter: time.Hour}
	svc := NewService(webhooks, boards, agents, gateways, activity, q,
		fakeDialer{caller: caller}, cfg, "http://control:8080", log)

	webhook, err := svc.Create(ctx, adminActor(), board.ID, CreateWebhookInput{
		Name:        "deploys",
		Instruction: "Summarize the deploy result for the team.",
	})
	require.NoError(t, err)

	return &webhookFixture{
		svc:      svc,
		queue:    q,
		caller:   caller,
		webhooks: webhooks,
		boards:   boards,
		activity: activity,
		board:    board,
		webhook:  webhook,
		lead:     lead,
	}
}

func adminActor() *authservice.Actor {
	return &authservice.Actor{
		Type:   authservice.ActorUser,
		User:   &authmodels.User{ID: "u1"},
		Member: &authmodels.Member{UserID: "u1", Role: authmodels.RoleAdmin},
	}
}

func TestIngestCapturesPayloadAndQueues(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID,
		[]byte(`{"x":1}`), "application/json",
		map[string]string{"Content-Type": "application/json", "X-Hub-Signature": "sha1=abc", "Cookie": "secret"},
		"203.0.113.9")
	require.NoError(t, err)
	require.NotEmpty(t, result.PayloadID)

	payload, err := f.webhooks.GetPayload(ctx, result.PayloadID)
	require.NoError(t, err)
	decoded, ok := payload.Body.V.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), decoded["x"])
	assert.Equal(t, "sha1=abc", payload.Headers["x-hub-signature"])
	assert.NotContains(t, payload.Headers, "cookie")

	// A tagged non-chat memory row was written.
	memories, err := f.boards.ListMemory(ctx, f.board.ID, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.False(t, memories[0].IsChat)
	assert.Contains(t, []string(memories[0].Tags), "webhook:"+f.webhook.ID)
	assert.Contains(t, []string(memories[0].Tags), "payload:"+result.PayloadID)
	assert.Contains(t, memories[0].Content, result.PayloadID)

	assert.Equal(t, 1, f.queue.Len())
}

func TestIngestRejectsUnknownAndDisabled(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, f.board.ID, "nope", []byte(`{}`), "application/json", nil, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	enabled := false
	_, err = f.svc.Update(ctx, adminActor(), f.webhook.ID, UpdateWebhookInput{Enabled: &enabled})
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, f.board.ID, f.webhook.ID, []byte(`{}`), "application/json", nil, "")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 410, appErr.HTTPStatus)
}

func TestIngestStoresNonJSONAsString(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID,
		[]byte("deploy finished"), "text/plain", nil, "")
	require.NoError(t, err)

	payload, err := f.webhooks.GetPayload(ctx, result.PayloadID)
	require.NoError(t, err)
	assert.Equal(t, "deploy finished", payload.Body.V)

	// A JSON-shaped body under a non-JSON content type still decodes.
	result, err = f.svc.Ingest(ctx, f.board.ID, f.webhook.ID,
		[]byte(`[1,2]`), "text/plain", nil, "")
	require.NoError(t, err)
	payload, err = f.webhooks.GetPayload(ctx, result.PayloadID)
	require.NoError(t, err)
	_, ok := payload.Body.V.([]interface{})
	assert.True(t, ok)

	// Broken JSON falls back to the raw string.
	result, err = f.svc.Ingest(ctx, f.board.ID, f.webhook.ID,
		[]byte(`{"x":`), "application/json", nil, "")
	require.NoError(t, err)
	payload, err = f.webhooks.GetPayload(ctx, result.PayloadID)
	require.NoError(t, err)
	assert.Equal(t, `{"x":`, payload.Body.V)
}

func TestNotifyLeadSendsInstruction(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID, []byte(`{"x":1}`), "application/json", nil, "")
	require.NoError(t, err)

	delivery, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.NotifyLead(ctx, delivery))

	require.Len(t, f.caller.sent, 1)
	assert.Equal(t, "agent:alpha:main", f.caller.sent[0].Key)
	assert.Contains(t, f.caller.sent[0].Text, "Summarize the deploy result")
	assert.Contains(t, f.caller.sent[0].Text, result.PayloadID)

	dispatched, err := f.activity.HasEventForPayload(ctx, events.WebhookDispatchSuccess, result.PayloadID)
	require.NoError(t, err)
	assert.True(t, dispatched)
}

func TestReconcileRescuesUnnotifiedPayloads(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID, []byte(`{"x":1}`), "application/json", nil, "")
	require.NoError(t, err)

	// Simulate a restart: drop the queued delivery and age the payload
	// past the grace period.
	_, err = f.queue.Dequeue(ctx)
	require.NoError(t, err)
	payload, err := f.webhooks.GetPayload(ctx, result.PayloadID)
	require.NoError(t, err)
	payload.ReceivedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, f.webhooks.CreatePayload(ctx, payload))

	rescued, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rescued)
	assert.Equal(t, 1, f.queue.Len())

	// A dispatched payload is not rescued twice.
	delivery, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.NotifyLead(ctx, delivery))
	rescued, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rescued)
}

func TestReconcileIgnoresPayloadMentionsInOtherEvents(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID, []byte(`{"x":1}`), "application/json", nil, "")
	require.NoError(t, err)

	_, err = f.queue.Dequeue(ctx)
	require.NoError(t, err)
	payload, err := f.webhooks.GetPayload(ctx, result.PayloadID)
	require.NoError(t, err)
	payload.ReceivedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, f.webhooks.CreatePayload(ctx, payload))

	// A success event for another payload that merely mentions this one
	// in its text must not mask the lost delivery.
	otherID := "payload-other"
	require.NoError(t, f.activity.Append(ctx, &activitymodels.ActivityEvent{
		EventType: events.WebhookDispatchSuccess,
		Message:   fmt.Sprintf("Payload %s dispatched (superseding %s).", otherID, result.PayloadID),
		PayloadID: &otherID,
	}))

	rescued, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rescued)
}

func TestIngestFallsBackWhenQueueFull(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	for f.queue.Enqueue(&models.Delivery{BoardID: f.board.ID}) {
	}

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID, []byte(`{"x":1}`), "application/json", nil, "")
	require.NoError(t, err)

	// The lead was notified synchronously instead of via the queue.
	require.Len(t, f.caller.sent, 1)
	assert.Contains(t, f.caller.sent[0].Text, result.PayloadID)
}

func TestDispatcherDropsAfterMaxAttempts(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	f.caller.sendErr = &rpc.TransportError{Op: "send", Err: errors.New("connection reset")}

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID, []byte(`{"x":1}`), "application/json", nil, "")
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err = f.svc.RunDispatcher(runCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 3, f.caller.attempts)
	assert.Equal(t, 0, f.queue.Len())

	failed, err := f.activity.HasEventForPayload(ctx, events.WebhookDispatchFailed, result.PayloadID)
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestDeleteRemovesPayloads(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, f.board.ID, f.webhook.ID, []byte(`{"x":1}`), "application/json", nil, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, adminActor(), f.webhook.ID))
	_, err = f.webhooks.GetPayload(ctx, result.PayloadID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
