package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
)

// MemoryRepository is the in-memory store used by tests. Feed joins are
// resolved through the Resolver hooks so tests can wire task and agent
// fakes without a database.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*models.ActivityEvent

	// Resolve hooks; nil hooks make feed rows with empty join fields.
	ResolveTask  func(taskID string) (title, boardID, boardName string, ok bool)
	ResolveAgent func(agentID string) (name, role string, ok bool)
}

// NewMemory creates an empty in-memory activity store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(_ context.Context, event *models.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	copied := *event
	r.events = append(r.events, &copied)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*models.ActivityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := boardSet(filter.BoardIDs)
	var out []*models.ActivityEvent
	for _, ev := range r.events {
		if filter.AgentID != "" && (ev.AgentID == nil || *ev.AgentID != filter.AgentID) {
			continue
		}
		if allowed != nil {
			if ev.TaskID == nil || r.ResolveTask == nil {
				continue
			}
			_, boardID, _, ok := r.ResolveTask(*ev.TaskID)
			if !ok || !allowed[boardID] {
				continue
			}
		}
		copied := *ev
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *MemoryRepository) ListFeed(_ context.Context, boardIDs []string, limit, offset int) ([]*models.FeedItem, error) {
	items := r.feed(boardIDs, nil)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, limit, offset), nil
}

func (r *MemoryRepository) FeedSince(_ context.Context, since time.Time, boardIDs []string) ([]*models.FeedItem, error) {
	items := r.feed(boardIDs, &since)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (r *MemoryRepository) feed(boardIDs []string, since *time.Time) []*models.FeedItem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := boardSet(boardIDs)
	items := make([]*models.FeedItem, 0)
	for _, ev := range r.events {
		if ev.EventType != "task.comment" || strings.TrimSpace(ev.Message) == "" || ev.TaskID == nil {
			continue
		}
		if since != nil && ev.CreatedAt.Before(*since) {
			continue
		}
		var title, boardID, boardName string
		if r.ResolveTask != nil {
			var ok bool
			title, boardID, boardName, ok = r.ResolveTask(*ev.TaskID)
			if !ok {
				continue
			}
		}
		if allowed != nil && !allowed[boardID] {
			continue
		}
		item := &models.FeedItem{
			ID:        ev.ID,
			CreatedAt: ev.CreatedAt,
			Message:   ev.Message,
			AgentID:   ev.AgentID,
			TaskID:    *ev.TaskID,
			TaskTitle: title,
			BoardID:   boardID,
			BoardName: boardName,
		}
		if ev.AgentID != nil && r.ResolveAgent != nil {
			if name, role, ok := r.ResolveAgent(*ev.AgentID); ok {
				item.AgentName = &name
				if role != "" {
					roleCopy := role
					item.AgentRole = &roleCopy
				}
			}
		}
		items = append(items, item)
	}
	return items
}

func (r *MemoryRepository) HasEventForPayload(_ context.Context, eventType, payloadID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ev := range r.events {
		if ev.EventType == eventType && ev.PayloadID != nil && *ev.PayloadID == payloadID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) ClearAgent(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.AgentID != nil && *ev.AgentID == agentID {
			ev.AgentID = nil
		}
	}
	return nil
}

// Events returns a snapshot for assertions.
func (r *MemoryRepository) Events() []*models.ActivityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ActivityEvent, len(r.events))
	copy(out, r.events)
	return out
}

func boardSet(boardIDs []string) map[string]bool {
	if boardIDs == nil {
		return nil
	}
	set := make(map[string]bool, len(boardIDs))
	for _, id := range boardIDs {
		set[id] = true
	}
	return set
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
