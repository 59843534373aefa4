package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRequest(id string, senderID string) domain.FriendRequest {
	return domain.FriendRequest{
		ID:       id,
		Sender:   domain.FriendRequestSender{ID: senderID, Username: senderID},
		FriendID: "me",
		Status:   domain.FriendRequestPending,
	}
}

func TestFriendsServiceAcceptUsesSenderID(t *testing.T) {
	t.Parallel()

	api := &fakeFriendsAPI{pending: []domain.FriendRequest{pendingRequest("r1", "u2"), pendingRequest("r2", "u3")}}
	svc := NewFriendsService(api, newFakeRealtime(), zerolog.Nop())
	_, err := svc.FetchPending(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.Accept(context.Background(), "r1"))
	require.NoError(t, svc.Reject(context.Background(), "r2"))

	assert.Equal(t, []string{"accept:u2", "reject:u3"}, api.calls)
	assert.Empty(t, svc.Pending())
}

func TestFriendsServiceUnknownRequest(t *testing.T) {
	t.Parallel()

	api := &fakeFriendsAPI{}
	svc := NewFriendsService(api, newFakeRealtime(), zerolog.Nop())

	err := svc.Accept(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrFriendRequestNotFound)
	assert.Empty(t, api.calls)
}

func TestFriendsServiceFailedAnswerKeepsRequest(t *testing.T) {
	t.Parallel()

	api := &fakeFriendsAPI{pending: []domain.FriendRequest{pendingRequest("r1", "u2")}}
	svc := NewFriendsService(api, newFakeRealtime(), zerolog.Nop())
	_, err := svc.FetchPending(context.Background())
	require.NoError(t, err)

	api.callErr = errors.New("backend down")
	require.Error(t, svc.Accept(context.Background(), "r1"))
	assert.Len(t, svc.Pending(), 1)
}

func TestFriendsServiceSend(t *testing.T) {
	t.Parallel()

	api := &fakeFriendsAPI{}
	svc := NewFriendsService(api, newFakeRealtime(), zerolog.Nop())

	require.NoError(t, svc.Send(context.Background(), " u9 "))
	require.Error(t, svc.Send(context.Background(), "  "))
	assert.Equal(t, []string{"send:u9"}, api.calls)
}

func TestFriendsServiceRefetchesOnNotification(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime()
	api := &fakeFriendsAPI{}
	svc := NewFriendsService(api, rt, zerolog.Nop())

	var changes atomic.Int32
	svc.OnChange(func([]domain.FriendRequest) { changes.Add(1) })

	require.NoError(t, svc.Initialize(context.Background()))
	assert.Equal(t, 1, api.fetchCount())

	api.mu.Lock()
	api.pending = []domain.FriendRequest{pendingRequest("r1", "u2")}
	api.mu.Unlock()

	rt.emit(t, domain.EventRefreshFriendRequests, domain.FriendRequestNotice{Message: "new request"})
	require.Eventually(t, func() bool { return len(svc.Pending()) == 1 }, time.Second, time.Millisecond)

	rt.emit(t, domain.EventFriendshipUpdated, map[string]string{"friendId": "u2"})
	require.Eventually(t, func() bool { return api.fetchCount() == 3 }, time.Second, time.Millisecond)

	svc.Cleanup()
	assert.Zero(t, rt.handlerCount(domain.EventRefreshFriendRequests))
	assert.Zero(t, rt.handlerCount(domain.EventFriendshipUpdated))
	assert.Equal(t, int32(3), changes.Load())
}

func TestFriendsServiceInitializeFailure(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime()
	svc := NewFriendsService(&fakeFriendsAPI{fetchErr: errors.New("boom")}, rt, zerolog.Nop())

	require.Error(t, svc.Initialize(context.Background()))
	assert.Zero(t, rt.handlerCount(domain.EventRefreshFriendRequests))
	assert.Empty(t, svc.Pending())
}
