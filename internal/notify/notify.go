package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tradersutopia/billingd/internal/model"
	"github.com/tradersutopia/billingd/internal/store"

	"go.uber.org/multierr"
)

// Sender delivers a payload to a single push endpoint.
type Sender interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

// Service records billing notifications and fans them out to the
// account's registered push endpoints. Delivery is best-effort: the
// audit row is written first and endpoint failures are logged, never
// surfaced to the caller.
type Service struct {
	sender        Sender
	subscriptions *store.PushSubscriptionStore
	notifications *store.NotificationStore
	logger        *slog.Logger
}

func NewService(sender Sender, subs *store.PushSubscriptionStore, notifications *store.NotificationStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sender:        sender,
		subscriptions: subs,
		notifications: notifications,
		logger:        logger,
	}
}

// Notify records the notification and pushes it to every endpoint the
// account has registered. Endpoints the push service reports as gone are
// pruned so they are not retried on the next notification.
func (s *Service) Notify(ctx context.Context, accountID int64, kind, title, message, metadata string) {
	if _, err := s.notifications.Create(accountID, kind, title, message, metadata); err != nil {
		s.logger.Error("record notification", "account_id", accountID, "kind", kind, "error", err)
		return
	}

	if s.sender == nil {
		return
	}

	subs, err := s.subscriptions.ListByAccountID(accountID)
	if err != nil {
		s.logger.Error("list push subscriptions", "account_id", accountID, "error", err)
		return
	}

	var errs error
	for i := range subs {
		if ctx.Err() != nil {
			return
		}
		sub := &subs[i]
		err := s.sender.Send(sub, Payload{
			Title: title,
			Body:  message,
			URL:   "/account/billing",
			Tag:   kind,
		})
		if errors.Is(err, ErrExpired) {
			if delErr := s.subscriptions.DeleteByEndpoint(sub.Endpoint); delErr != nil {
				errs = multierr.Append(errs, delErr)
			}
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		s.logger.Warn("push delivery incomplete",
			"account_id", accountID, "kind", kind, "error", errs)
	}
}
