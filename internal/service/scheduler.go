package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/checkin-credits/internal/metrics"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
)

const notifyTimeout = 5 * time.Second

// Scheduler runs the check-in state machine for (user, event) pairs:
// NONE -> RESERVED -> ATTENDED | NO_SHOW, with cancellation back to NONE.
// Each transition is one transaction that takes the event lock before the
// user lock.
type Scheduler struct {
	store    *repository.Store
	users    *repository.UserRepo
	events   *repository.EventRepo
	checkIns *repository.CheckInRepo
	ledger   Ledger
	guard    Guard
	notifier Notifier

	// Now is the clock used for window checks; tests replace it.
	Now func() time.Time

	pending sync.WaitGroup
}

func NewScheduler(store *repository.Store, ledger Ledger, guard Guard, notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{
		store:    store,
		users:    repository.NewUserRepo(store),
		events:   repository.NewEventRepo(store),
		checkIns: repository.NewCheckInRepo(store),
		ledger:   ledger,
		guard:    guard,
		notifier: notifier,
		Now:      time.Now,
	}
}

// CheckIn reserves a seat for the user and spends one credit from the
// first non-empty pool. Nothing is written unless every rule passes.
func (s *Scheduler) CheckIn(ctx context.Context, userID, eventID string) (model.CheckIn, error) {
	var ci model.CheckIn
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		now := s.Now().UTC()
		event, err := s.events.GetForUpdateTx(ctx, tx, eventID)
		if err != nil {
			return eventErr(err)
		}
		user, err := s.users.GetForUpdateTx(ctx, tx, userID)
		if err != nil {
			return userErr(err)
		}
		if !user.IsUserActivated {
			return ErrUserNotActivated
		}
		pool, ok := SelectSpendPool(user)
		if !ok || user.CheckInsQuantity <= 0 {
			return ErrInsufficientCredits
		}
		if pool == model.CheckInTypePaid && user.Expired(now) {
			return ErrPlanExpired
		}

		// capacity is judged before duplicates: a full event reports full
		// even to a member who already holds one of its seats
		reserved, err := s.checkIns.CountByEventTx(ctx, tx, eventID)
		if err != nil {
			return fmt.Errorf("count check-ins: %w", err)
		}
		if err := s.guard.EligibleToCheckIn(event, reserved, now); err != nil {
			return err
		}
		if _, err := s.checkIns.GetByEventAndUserTx(ctx, tx, eventID, userID); err == nil {
			return ErrAlreadyReserved
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load check-in: %w", err)
		}

		ci = model.CheckIn{EventID: eventID, UserID: userID, Type: pool, CreatedAt: now}
		if err := s.checkIns.InsertTx(ctx, tx, &ci); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyReserved
			}
			return fmt.Errorf("insert check-in: %w", err)
		}
		if _, err := s.ledger.Consume(ctx, tx, userID, pool, ci.ID); err != nil {
			return err
		}
		return nil
	})
	metrics.CheckInsTotal.WithLabelValues("check_in", outcome(err)).Inc()
	if err != nil {
		return model.CheckIn{}, err
	}
	log.Info().Str("user_id", userID).Str("event_id", eventID).Str("check_in_id", ci.ID).
		Str("pool", string(ci.Type)).Msg("Checked in")
	metrics.StatementsTotal.WithLabelValues(string(model.StatementDebit), string(ci.Type)).Inc()
	if ci.Type == model.CheckInTypeTrial {
		s.notify(ctx, Notification{
			Kind: KindTrialUsed, UserID: userID, EventID: eventID,
			CheckInID: ci.ID, CheckInType: ci.Type, OccurredAt: ci.CreatedAt,
		})
	}
	return ci, nil
}

// Cancel releases the user's seat and refunds the credit to the pool the
// reservation recorded.
func (s *Scheduler) Cancel(ctx context.Context, userID, eventID string) error {
	var ci model.CheckIn
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		now := s.Now().UTC()
		event, err := s.events.GetForUpdateTx(ctx, tx, eventID)
		if err != nil {
			return eventErr(err)
		}
		if _, err := s.users.GetForUpdateTx(ctx, tx, userID); err != nil {
			return userErr(err)
		}
		ci, err = s.checkIns.GetByEventAndUserTx(ctx, tx, eventID, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("load check-in: %w", err)
		}
		if ci.State() != model.StateReserved {
			return ErrCheckInWindowClosed
		}
		if err := s.guard.EligibleToCancel(event, now); err != nil {
			return err
		}
		if _, err := s.ledger.Refund(ctx, tx, userID, ci.Type, ci.ID); err != nil {
			return err
		}
		if err := s.checkIns.DeleteTx(ctx, tx, ci.ID); err != nil {
			return fmt.Errorf("delete check-in: %w", err)
		}
		return nil
	})
	metrics.CheckInsTotal.WithLabelValues("cancel", outcome(err)).Inc()
	if err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Str("event_id", eventID).Str("check_in_id", ci.ID).
		Str("pool", string(ci.Type)).Msg("Check-in cancelled")
	metrics.StatementsTotal.WithLabelValues(string(model.StatementCredit), string(ci.Type)).Inc()
	s.notify(ctx, Notification{
		Kind: KindCancelled, UserID: userID, EventID: eventID,
		CheckInID: ci.ID, CheckInType: ci.Type, OccurredAt: s.Now().UTC(),
	})
	return nil
}

// MarkAttendance records whether the member showed up. It is accepted only
// once the event has started and only once per check-in; repeating the
// same answer is a no-op.
func (s *Scheduler) MarkAttendance(ctx context.Context, checkInID string, attended bool) (model.CheckIn, error) {
	var ci model.CheckIn
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		var err error
		ci, err = s.checkIns.GetByIDTx(ctx, tx, checkInID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("load check-in: %w", err)
		}
		event, err := s.events.GetTx(ctx, tx, ci.EventID)
		if err != nil {
			return eventErr(err)
		}
		if event.StartDate == nil || s.Now().Before(*event.StartDate) {
			return invalid("attended", "event has not started")
		}
		switch ci.State() {
		case model.StateReserved:
		case model.StateAttended, model.StateNoShow:
			if *ci.Attended == attended {
				return nil
			}
			return invalid("attended", "attendance already recorded")
		}
		if err := s.checkIns.SetAttendedTx(ctx, tx, ci.ID, attended); err != nil {
			return fmt.Errorf("set attendance: %w", err)
		}
		ci.Attended = &attended
		return nil
	})
	if err != nil {
		return model.CheckIn{}, err
	}
	return ci, nil
}

// Wait blocks until notifications already handed off have finished.
func (s *Scheduler) Wait() { s.pending.Wait() }

// notify hands n to the notifier without blocking the caller. The request
// context may be cancelled once the response is written, so delivery gets
// its own deadline.
func (s *Scheduler) notify(ctx context.Context, n Notification) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(nctx, n); err != nil {
			metrics.NotificationsTotal.WithLabelValues(n.Kind, "error").Inc()
			log.Warn().Err(err).Str("kind", n.Kind).Str("user_id", n.UserID).Msg("Notification failed")
			return
		}
		metrics.NotificationsTotal.WithLabelValues(n.Kind, "ok").Inc()
	}()
}

func eventErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrEventNotFound
	}
	return fmt.Errorf("load event: %w", err)
}
