package subscription

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
	"github.com/jwalitptl/peoli-api/pkg/errors"
	"github.com/jwalitptl/peoli-api/pkg/logger"
)

type SubscriptionServicer interface {
	Register(ctx context.Context, sub *model.PushSubscription) (created bool, err error)
	Unregister(ctx context.Context, userID int64, endpoint string) error
	List(ctx context.Context, userID int64) ([]*model.PushSubscription, error)
	SendTest(ctx context.Context, userID int64) (*model.ScheduledNotification, int, error)
	VAPIDPublicKey() string
}

// TestScheduler creates the immediate notification used by SendTest.
type TestScheduler interface {
	ScheduleTest(ctx context.Context, userID int64) (*model.ScheduledNotification, error)
}

type Service struct {
	repo      repository.SubscriptionRepository
	scheduler TestScheduler
	publicKey string
	logger    *logger.Logger
}

func NewService(repo repository.SubscriptionRepository, scheduler TestScheduler, publicKey string, logger *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		scheduler: scheduler,
		publicKey: publicKey,
		logger:    logger,
	}
}

// Register stores sub keyed by its endpoint. An endpoint that is already known
// is taken over by sub.UserID with the new keys.
func (s *Service) Register(ctx context.Context, sub *model.PushSubscription) (bool, error) {
	if sub.Endpoint == "" || sub.P256dh == "" || sub.Auth == "" {
		return false, errors.BadRequest("endpoint and keys are required", nil)
	}

	created, err := s.repo.Upsert(ctx, sub)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return false, errors.NotFound("user", err)
		}
		return false, fmt.Errorf("failed to save push subscription: %w", err)
	}

	s.logger.Info("Push subscription saved",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"created", created)
	return created, nil
}

func (s *Service) Unregister(ctx context.Context, userID int64, endpoint string) error {
	deleted, err := s.repo.Delete(ctx, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	if !deleted {
		return errors.NotFound("subscription", nil)
	}

	s.logger.Info("Push subscription removed", "user_id", userID)
	return nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]*model.PushSubscription, error) {
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return subs, nil
}

// SendTest schedules an immediate notification and returns how many
// endpoints it will fan out to.
func (s *Service) SendTest(ctx context.Context, userID int64) (*model.ScheduledNotification, int, error) {
	subs, err := s.List(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if len(subs) == 0 {
		return nil, 0, errors.BadRequest("no push subscriptions registered for this user", nil)
	}

	n, err := s.scheduler.ScheduleTest(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return n, len(subs), nil
}

func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}
