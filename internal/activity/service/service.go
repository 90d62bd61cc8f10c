// Package service exposes the activity log: paged listings, the task
// comment feed, and the polling core behind its SSE stream.
package service

import (
	"context"
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

// Stream timing shared by the SSE handlers.
const (
	PollInterval = 2 * time.Second
	PingInterval = 15 * time.Second

	// DedupCapacity bounds the id window each stream cursor remembers.
	DedupCapacity = 2000
)

// BoardScope answers which boards an actor may read.
type BoardScope interface {
	AccessibleBoardIDs(ctx context.Context, actor *authservice.Actor, organizationID string) ([]string, error)
}

// Service reads the activity log with actor scoping applied.
type Service struct {
	repo           repository.Repository
	scope          BoardScope
	organizationID string
	log            *logger.Logger
}

// NewService wires the activity service.
func NewService(repo repository.Repository, scope BoardScope, organizationID string, log *logger.Logger) *Service {
	return &Service{repo: repo, scope: scope, organizationID: organizationID, log: log}
}

// scopedBoardIDs returns nil for unrestricted actors, or the explicit
// accessible set. An empty non-nil slice means no boards at all.
func (s *Service) scopedBoardIDs(ctx context.Context, actor *authservice.Actor) ([]string, error) {
	if actor.IsAdmin() {
		return nil, nil
	}
	return s.scope.AccessibleBoardIDs(ctx, actor, s.organizationID)
}

// List returns activity events newest first, scoped to the actor.
func (s *Service) List(ctx context.Context, actor *authservice.Actor, agentID string, limit, offset int) ([]*models.ActivityEvent, error) {
	boardIDs, err := s.scopedBoardIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, repository.ListFilter{
		AgentID:  agentID,
		BoardIDs: boardIDs,
		Limit:    limit,
		Offset:   offset,
	})
}

// CommentFeed returns the task comment feed newest first.
func (s *Service) CommentFeed(ctx context.Context, actor *authservice.Actor, limit, offset int) ([]*models.FeedItem, error) {
	boardIDs, err := s.scopedBoardIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFeed(ctx, boardIDs, limit, offset)
}

// FeedCursor is the monotonic time cursor used by the comment stream.
// Each Poll queries comments created at or after the cursor, filters
// ids already delivered, and advances.
type FeedCursor struct {
	service  *Service
	boardIDs []string
	since    time.Time
	seen     *DedupRing
}

// NewFeedCursor starts a stream cursor at now for the given actor.
func (s *Service) NewFeedCursor(ctx context.Context, actor *authservice.Actor) (*FeedCursor, error) {
	boardIDs, err := s.scopedBoardIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	return &FeedCursor{
		service:  s,
		boardIDs: boardIDs,
		since:    time.Now().UTC(),
		seen:     NewDedupRing(DedupCapacity),
	}, nil
}

// Poll returns comments that appeared since the last call. The overlap
// at the cursor boundary is absorbed by the dedup ring, so a row is
// never emitted twice within its window.
func (c *FeedCursor) Poll(ctx context.Context) ([]*models.FeedItem, error) {
	items, err := c.service.repo.FeedSince(ctx, c.since, c.boardIDs)
	if err != nil {
		return nil, err
	}
	fresh := items[:0]
	for _, item := range items {
		if c.seen.Add(item.ID) {
			fresh = append(fresh, item)
			if item.CreatedAt.After(c.since) {
				c.since = item.CreatedAt
			}
		}
	}
	return fresh, nil
}

// DedupRing remembers the last N ids in FIFO order. Stream cursors use
// it to absorb the overlap at their poll boundary.
type DedupRing struct {
	capacity int
	order    []string
	present  map[string]struct{}
}

// NewDedupRing creates an empty ring holding at most capacity ids.
func NewDedupRing(capacity int) *DedupRing {
	return &DedupRing{capacity: capacity, present: make(map[string]struct{}, capacity)}
}

// Add returns true when id was not seen yet, evicting the oldest entry
// once the ring is full.
func (r *DedupRing) Add(id string) bool {
	if _, ok := r.present[id]; ok {
		return false
	}
	r.present[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.present, oldest)
	}
	return true
}
