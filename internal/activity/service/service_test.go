package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	authmodels "github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

type staticScope struct{ ids []string }

func (s staticScope) AccessibleBoardIDs(_ context.Context, _ *authservice.Actor, _ string) ([]string, error) {
	return s.ids, nil
}

func adminActor() *authservice.Actor {
	return &authservice.Actor{
		Type:   authservice.ActorUser,
		User:   &authmodels.User{ID: "u1"},
		Member: &authmodels.Member{UserID: "u1", Role: authmodels.RoleAdmin},
	}
}

func memberActor() *authservice.Actor {
	return &authservice.Actor{
		Type:   authservice.ActorUser,
		User:   &authmodels.User{ID: "u2"},
		Member: &authmodels.Member{UserID: "u2", Role: authmodels.RoleMember},
	}
}

func TestListScopesNonAdmins(t *testing.T) {
	repo := repository.NewMemory()
	svc := NewService(repo, staticScope{ids: []string{}}, "org-1", logger.Default())
	ctx := context.Background()

	taskID := "t1"
	require.NoError(t, repo.Append(ctx, &activitymodels.ActivityEvent{
		EventType: "task.created", Message: "Task created.", TaskID: &taskID,
	}))

	all, err := svc.List(ctx, adminActor(), "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// A member with an empty accessible set sees nothing.
	scoped, err := svc.List(ctx, memberActor(), "", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

func TestFeedCursorDeliversOnce(t *testing.T) {
	repo := repository.NewMemory()
	svc := NewService(repo, staticScope{}, "org-1", logger.Default())
	ctx := context.Background()

	cursor, err := svc.NewFeedCursor(ctx, adminActor())
	require.NoError(t, err)
	cursor.since = time.Now().UTC().Add(-time.Minute)

	taskID := "t1"
	require.NoError(t, repo.Append(ctx, &activitymodels.ActivityEvent{
		EventType: "task.comment", Message: "Looks ready to me.", TaskID: &taskID,
	}))

	first, err := cursor.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "Looks ready to me.", first[0].Message)

	// Re-polling over the same window emits nothing new.
	second, err := cursor.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestDedupRingEvictsOldest(t *testing.T) {
	ring := NewDedupRing(3)
	for i := 0; i < 4; i++ {
		assert.True(t, ring.Add(fmt.Sprintf("id-%d", i)))
	}
	// id-0 was evicted, so it reads as new again; id-3 is still known.
	assert.True(t, ring.Add("id-0"))
	assert.False(t, ring.Add("id-3"))
}
