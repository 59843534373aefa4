package application

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/rs/zerolog"
)

// ContactsService keeps the friend list and folds presence and unread
// updates from the realtime channel into it.
type ContactsService struct {
	api      ports.ContactsAPI
	realtime ports.Realtime
	logger   zerolog.Logger

	mu       sync.RWMutex
	contacts []domain.Contact
	selected string
	release  func()
}

func NewContactsService(api ports.ContactsAPI, realtime ports.Realtime, logger zerolog.Logger) *ContactsService {
	return &ContactsService{api: api, realtime: realtime, logger: logger}
}

// Fetch replaces the contact list. A failed fetch leaves it empty.
func (s *ContactsService) Fetch(ctx context.Context) ([]domain.Contact, error) {
	contacts, err := s.api.Contacts(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.contacts = nil
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	s.contacts = contacts
	return slices.Clone(contacts), nil
}

func (s *ContactsService) Contacts() []domain.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.contacts)
}

// Select makes friendID the active contact and clears its unread count.
func (s *ContactsService) Select(friendID string) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(friendID)
	if i < 0 {
		return domain.Contact{}, fmt.Errorf("select %s: %w", friendID, domain.ErrContactNotFound)
	}
	s.selected = friendID
	s.contacts[i].UnreadCount = 0
	return s.contacts[i], nil
}

func (s *ContactsService) Selected() (domain.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(s.selected)
	if i < 0 {
		return domain.Contact{}, false
	}
	return s.contacts[i], true
}

// UpdateFriendStatus ignores friends that are not in the list.
func (s *ContactsService) UpdateFriendStatus(friendID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(friendID); i >= 0 {
		s.contacts[i].IsOnline = online
	}
}

func (s *ContactsService) UpdateUnreadCount(friendID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(friendID); i >= 0 {
		s.contacts[i].UnreadCount = count
	}
}

func (s *ContactsService) RequestFriendStatus(friendID string) error {
	return s.realtime.GetFriendStatus(friendID)
}

func (s *ContactsService) indexLocked(friendID string) int {
	if friendID == "" {
		return -1
	}
	return slices.IndexFunc(s.contacts, func(c domain.Contact) bool { return c.ID == friendID })
}

// SubscribeRealtime registers the presence and unread handlers. A second
// call releases the first set before registering again. The returned
// function removes them.
func (s *ContactsService) SubscribeRealtime() (release func()) {
	s.Cleanup()

	offs := []func(){
		s.realtime.On(domain.EventFriendStatusChange, func(data json.RawMessage) {
			var change domain.FriendStatusChange
			if s.decode(domain.EventFriendStatusChange, data, &change) {
				s.UpdateFriendStatus(change.UserID, change.IsOnline)
			}
		}),
		s.realtime.On(domain.EventFriendStatusResponse, func(data json.RawMessage) {
			var resp domain.FriendStatusResponse
			if s.decode(domain.EventFriendStatusResponse, data, &resp) {
				s.UpdateFriendStatus(resp.FriendID, resp.IsOnline)
			}
		}),
		s.realtime.On(domain.EventUnreadCountUpdate, func(data json.RawMessage) {
			var update domain.UnreadCountUpdate
			if s.decode(domain.EventUnreadCountUpdate, data, &update) {
				s.UpdateUnreadCount(update.FriendID, update.UnreadCount)
			}
		}),
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			for _, off := range offs {
				off()
			}
		})
	}

	s.mu.Lock()
	s.release = release
	s.mu.Unlock()

	return release
}

// Cleanup removes the realtime handlers registered by SubscribeRealtime.
func (s *ContactsService) Cleanup() {
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
}

func (s *ContactsService) decode(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("malformed realtime payload")
		return false
	}
	return true
}
