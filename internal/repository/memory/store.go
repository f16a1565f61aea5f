// Package memory is an in-process store used by tests and by single-node
// deployments configured with database.driver=memory. One mutex guards every
// table, so each conditional transition is atomic with respect to the others.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
)

type Store struct {
	mu sync.Mutex

	nextID        int64
	notifications map[int64]*model.ScheduledNotification
	subscriptions map[string]*model.PushSubscription
	deliveries    []*model.NotificationDelivery
	users         map[int64]*model.User
}

func NewStore() *Store {
	return &Store{
		notifications: make(map[int64]*model.ScheduledNotification),
		subscriptions: make(map[string]*model.PushSubscription),
		users:         make(map[int64]*model.User),
	}
}

// Repositories exposes s through the repository interfaces.
func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		Notifications: (*notificationRepository)(s),
		Subscriptions: (*subscriptionRepository)(s),
		Deliveries:    (*deliveryRepository)(s),
		Users:         (*userRepository)(s),
		Health:        s,
		Close:         func() error { return nil },
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// PutUser seeds the users table, which is owned elsewhere in production.
func (s *Store) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func copyNotification(n *model.ScheduledNotification) *model.ScheduledNotification {
	cp := *n
	cp.Payload.Data = n.Payload.Data.Clone()
	return &cp
}

type notificationRepository Store

func (r *notificationRepository) Create(_ context.Context, n *model.ScheduledNotification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	n.ID = s.id()
	n.Status = model.NotificationStatusPending
	n.CreatedAt = now
	n.UpdatedAt = now
	s.notifications[n.ID] = copyNotification(n)
	return nil
}

func (r *notificationRepository) Get(_ context.Context, id, userID int64) (*model.ScheduledNotification, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return nil, fmt.Errorf("failed to get notification: %w", repository.ErrNotFound)
	}
	return copyNotification(n), nil
}

func (r *notificationRepository) List(_ context.Context, filter *model.NotificationFilter) ([]*model.ScheduledNotification, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.ScheduledNotification
	for _, n := range s.notifications {
		if n.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && n.Kind != filter.Kind {
			continue
		}
		out = append(out, copyNotification(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SendAt.Equal(out[j].SendAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SendAt.After(out[j].SendAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *notificationRepository) Cancel(_ context.Context, id, userID int64) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID || n.Status != model.NotificationStatusPending {
		return false, nil
	}
	n.Status = model.NotificationStatusCancelled
	n.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *notificationRepository) CancelAllPending(_ context.Context, userID int64, kind model.NotificationKind) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	now := time.Now().UTC()
	for _, n := range s.notifications {
		if n.UserID != userID || n.Status != model.NotificationStatusPending {
			continue
		}
		if kind != "" && n.Kind != kind {
			continue
		}
		n.Status = model.NotificationStatusCancelled
		n.UpdatedAt = now
		count++
	}
	return count, nil
}

func (r *notificationRepository) ClaimDue(_ context.Context, now, staleBefore time.Time, limit int) ([]*model.ScheduledNotification, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*model.ScheduledNotification
	for _, n := range s.notifications {
		switch {
		case n.IsDue(now):
		case n.Status == model.NotificationStatusInFlight && n.ClaimedAt != nil && n.ClaimedAt.Before(staleBefore):
		default:
			continue
		}
		candidates = append(candidates, n)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SendAt.Before(candidates[j].SendAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*model.ScheduledNotification, 0, len(candidates))
	for _, n := range candidates {
		claimedAt := now
		n.Status = model.NotificationStatusInFlight
		n.ClaimedAt = &claimedAt
		n.UpdatedAt = now
		claimed = append(claimed, copyNotification(n))
	}
	return claimed, nil
}

func (r *notificationRepository) Finalize(_ context.Context, id int64, status model.NotificationStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize notification %d with non-terminal status %s", id, status)
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Status != model.NotificationStatusInFlight {
		return false, nil
	}
	now := time.Now().UTC()
	n.Status = status
	n.UpdatedAt = now
	if status == model.NotificationStatusSent {
		n.SentAt = &now
	}
	return true, nil
}

type subscriptionRepository Store

func (r *subscriptionRepository) Upsert(_ context.Context, sub *model.PushSubscription) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.subscriptions[sub.Endpoint]; ok {
		existing.UserID = sub.UserID
		existing.P256dh = sub.P256dh
		existing.Auth = sub.Auth
		existing.UpdatedAt = now
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		sub.UpdatedAt = now
		return false, nil
	}

	sub.ID = s.id()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	s.subscriptions[sub.Endpoint] = &cp
	return true, nil
}

func (r *subscriptionRepository) ListByUser(_ context.Context, userID int64) ([]*model.PushSubscription, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.PushSubscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *subscriptionRepository) Delete(_ context.Context, userID int64, endpoint string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[endpoint]
	if !ok || sub.UserID != userID {
		return false, nil
	}
	delete(s.subscriptions, endpoint)
	return true, nil
}

type deliveryRepository Store

func (r *deliveryRepository) Record(_ context.Context, d *model.NotificationDelivery) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = time.Now().UTC()
	}
	d.ID = s.id()
	cp := *d
	s.deliveries = append(s.deliveries, &cp)
	return nil
}

func (r *deliveryRepository) ListByNotification(_ context.Context, notificationID int64) ([]*model.NotificationDelivery, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.NotificationDelivery
	for _, d := range s.deliveries {
		if d.NotificationID == notificationID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *deliveryRepository) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.deliveries[:0]
	var removed int64
	for _, d := range s.deliveries {
		if d.AttemptedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	s.deliveries = kept
	return removed, nil
}

type userRepository Store

func (r *userRepository) Get(_ context.Context, id int64) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %w", repository.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}
