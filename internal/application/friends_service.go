package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/rs/zerolog"
)

// FriendsService tracks incoming friend requests. Once initialized it
// refetches the pending list whenever the backend announces a change.
type FriendsService struct {
	api      ports.FriendsAPI
	realtime ports.Realtime
	logger   zerolog.Logger

	mu       sync.RWMutex
	pending  []domain.FriendRequest
	onChange func([]domain.FriendRequest)
	release  func()
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewFriendsService(api ports.FriendsAPI, realtime ports.Realtime, logger zerolog.Logger) *FriendsService {
	return &FriendsService{api: api, realtime: realtime, logger: logger}
}

// OnChange sets a callback run after every successful fetch of the pending
// list.
func (s *FriendsService) OnChange(fn func([]domain.FriendRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// FetchPending replaces the pending list. A failed fetch leaves it empty.
func (s *FriendsService) FetchPending(ctx context.Context) ([]domain.FriendRequest, error) {
	requests, err := s.api.PendingFriendRequests(ctx)

	s.mu.Lock()
	if err != nil {
		s.pending = nil
		s.mu.Unlock()
		return nil, fmt.Errorf("fetch pending friend requests: %w", err)
	}
	s.pending = requests
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(slices.Clone(requests))
	}
	return slices.Clone(requests), nil
}

func (s *FriendsService) Pending() []domain.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pending)
}

// Accept accepts the pending request requestID and drops it from the list.
func (s *FriendsService) Accept(ctx context.Context, requestID string) error {
	return s.answer(ctx, requestID, "accept", s.api.AcceptFriendRequest)
}

// Reject rejects the pending request requestID and drops it from the list.
func (s *FriendsService) Reject(ctx context.Context, requestID string) error {
	return s.answer(ctx, requestID, "reject", s.api.RejectFriendRequest)
}

func (s *FriendsService) answer(ctx context.Context, requestID string, verb string, call func(context.Context, string) error) error {
	s.mu.RLock()
	i := slices.IndexFunc(s.pending, func(r domain.FriendRequest) bool { return r.ID == requestID })
	var senderID string
	if i >= 0 {
		senderID = s.pending[i].Sender.ID
	}
	s.mu.RUnlock()

	if i < 0 {
		return fmt.Errorf("%s friend request %s: %w", verb, requestID, domain.ErrFriendRequestNotFound)
	}
	if err := call(ctx, senderID); err != nil {
		return fmt.Errorf("%s friend request: %w", verb, err)
	}

	s.mu.Lock()
	s.pending = slices.DeleteFunc(s.pending, func(r domain.FriendRequest) bool { return r.ID == requestID })
	s.mu.Unlock()
	return nil
}

func (s *FriendsService) Send(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("send friend request: user id is required")
	}
	if err := s.api.SendFriendRequest(ctx, userID); err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	return nil
}

// Initialize fetches the pending list and starts listening for request
// notifications. Refetches triggered by the channel run until ctx ends or
// Cleanup is called.
func (s *FriendsService) Initialize(ctx context.Context) error {
	s.Cleanup()

	if _, err := s.FetchPending(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	refetch := func(json.RawMessage) { s.refetch(ctx) }
	offs := []func(){
		s.realtime.On(domain.EventRefreshFriendRequests, refetch),
		s.realtime.On(domain.EventFriendshipUpdated, refetch),
	}

	s.mu.Lock()
	s.cancel = cancel
	s.release = func() {
		for _, off := range offs {
			off()
		}
	}
	s.mu.Unlock()
	return nil
}

// refetch runs off the read loop, which must not block on HTTP.
func (s *FriendsService) refetch(ctx context.Context) {
	s.mu.Lock()
	if s.cancel == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.FetchPending(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("refetch friend requests")
		}
	}()
}

// Cleanup removes the realtime handlers and waits for running refetches.
func (s *FriendsService) Cleanup() {
	s.mu.Lock()
	release, cancel := s.release, s.cancel
	s.release, s.cancel = nil, nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
