package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultAbandonWindow = 5 * time.Minute
	DefaultStoreTimeout  = 3 * time.Second
)

// Service owns every mutation of the line store and the schedule index.
// It keeps no per-user state of its own; concurrent calls rely on the
// stores' per-key atomicity.
type Service struct {
	Lines    LineStore
	Schedule ScheduleIndex
	Combos   ComboSource
	History  HistorySource
	Log      *zap.Logger
	Metrics  *Metrics

	AbandonWindow time.Duration
	StoreTimeout  time.Duration
	Now           func() time.Time
	NewLineID     func() string
}

// AddOrIncrement puts one more of item into the user's cart. The first line
// of an empty cart arms the abandonment timer.
func (s *Service) AddOrIncrement(ctx context.Context, userID string, item ItemRef, d Details) (ref ItemRef, err error) {
	defer func() { s.Metrics.observeOp("add", err) }()

	if err := item.Validate(); err != nil {
		return ItemRef{}, err
	}
	if item.Kind == KindCombo {
		if err := s.checkCombo(ctx, item.ID); err != nil {
			return ItemRef{}, err
		}
	}

	template := LineItem{
		LineID:    s.newLineID(),
		Item:      item,
		Quantity:  1,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
		Details:   d,
	}

	var (
		qty   int64
		first bool
	)
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		qty, first, err = s.Lines.IncrLine(ctx, userID, template)
		return err
	})
	if err != nil {
		return ItemRef{}, storeErr("incr line", err)
	}

	if first {
		if err := s.ScheduleCleanup(ctx, userID, s.abandonWindow()); err != nil {
			s.undoFirstLine(ctx, userID, item)
			return ItemRef{}, err
		}
	} else if err := s.armIfMissing(ctx, userID); err != nil {
		return ItemRef{}, err
	}

	s.log().Debug("cart line incremented",
		zap.String("user_id", userID),
		zap.Stringer("item", item),
		zap.Int64("quantity", qty),
	)
	return item, nil
}

// Decrement takes one of item out of the cart. A line that reaches zero is
// removed, and the container goes with its last line together with the
// durable rows it was loaded from; the schedule entry is left for the
// sweeper to settle.
func (s *Service) Decrement(ctx context.Context, userID string, item ItemRef) (ref ItemRef, err error) {
	defer func() { s.Metrics.observeOp("sub", err) }()

	if err := item.Validate(); err != nil {
		return ItemRef{}, err
	}

	var qty int64
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		qty, err = s.Lines.DecrLine(ctx, userID, item)
		return err
	})
	if errors.Is(err, ErrLineNotFound) {
		s.log().Debug("decrement of missing cart line",
			zap.String("user_id", userID),
			zap.Stringer("item", item),
		)
		return ItemRef{}, fmt.Errorf("%w: %s", ErrLineNotFound, item)
	}
	if err != nil {
		return ItemRef{}, storeErr("decr line", err)
	}
	if qty == 0 {
		if err := s.forgetEmptiedCart(ctx, userID); err != nil {
			return ItemRef{}, err
		}
	}

	s.log().Debug("cart line decremented",
		zap.String("user_id", userID),
		zap.Stringer("item", item),
		zap.Int64("quantity", qty),
	)
	return item, nil
}

// List returns the user's lines. When the fast store has no cart it loads
// the durable copy and writes it back line by line without arming the
// schedule.
func (s *Service) List(ctx context.Context, userID string) (lines []LineItem, err error) {
	defer func() { s.Metrics.observeOp("list", err) }()

	var exists bool
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.Lines.CartExists(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storeErr("cart exists", err)
	}

	if exists {
		err = s.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			lines, err = s.Lines.ListLines(ctx, userID)
			return err
		})
		if err != nil {
			return nil, storeErr("list lines", err)
		}
		return lines, nil
	}

	return s.loadFromHistory(ctx, userID)
}

func (s *Service) loadFromHistory(ctx context.Context, userID string) ([]LineItem, error) {
	if s.History == nil {
		return []LineItem{}, nil
	}

	var loaded []LineItem
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		loaded, err = s.History.LoadCart(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storeErr("load cart history", err)
	}

	restored := 0
	for _, l := range loaded {
		if err := l.Item.Validate(); err != nil || l.Quantity <= 0 {
			s.log().Warn("skipping invalid history line",
				zap.String("user_id", userID),
				zap.String("line_id", l.LineID),
				zap.Int64("quantity", l.Quantity),
			)
			continue
		}
		l.UserID = userID

		var ok bool
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			ok, err = s.Lines.RestoreLine(ctx, userID, l)
			return err
		})
		if err != nil {
			return nil, storeErr("repopulate line", err)
		}
		if ok {
			restored++
		}
	}

	if restored == 0 {
		return []LineItem{}, nil
	}
	s.log().Info("cart repopulated from history",
		zap.String("user_id", userID),
		zap.Int("lines", restored),
	)

	// Re-read so lines added concurrently with the reload are reported as
	// stored.
	var lines []LineItem
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		lines, err = s.Lines.ListLines(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storeErr("list lines", err)
	}
	return lines, nil
}

// Clear removes the user's cart everywhere and cancels its cleanup.
func (s *Service) Clear(ctx context.Context, userID string) (err error) {
	defer func() { s.Metrics.observeOp("clear", err) }()

	if err := s.deleteCart(ctx, userID); err != nil {
		return err
	}

	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.Schedule.Disarm(ctx, userID)
	})
	if err != nil {
		return storeErr("disarm schedule", err)
	}
	return nil
}

// Purge is Clear for a due schedule entry. The entry is only settled if it
// was not re-armed in the meantime.
func (s *Service) Purge(ctx context.Context, entry DueEntry) (err error) {
	defer func() { s.Metrics.observeOp("purge", err) }()

	if err := s.deleteCart(ctx, entry.UserID); err != nil {
		return err
	}

	var settled bool
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		settled, err = s.Schedule.Settle(ctx, entry)
		return err
	})
	if err != nil {
		return storeErr("settle schedule", err)
	}
	if !settled {
		s.log().Debug("schedule entry re-armed during purge", zap.String("user_id", entry.UserID))
	}
	return nil
}

// ScheduleCleanup arms the user's cleanup delay from now. A non-positive
// delay cancels it instead.
func (s *Service) ScheduleCleanup(ctx context.Context, userID string, delay time.Duration) error {
	if delay <= 0 {
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			return s.Schedule.Disarm(ctx, userID)
		})
		return storeErr("disarm schedule", err)
	}

	due := s.now().Add(delay)
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.Schedule.Arm(ctx, userID, due)
	})
	if err != nil {
		return storeErr("arm schedule", err)
	}

	s.log().Info("cart cleanup scheduled",
		zap.String("user_id", userID),
		zap.Time("due", due),
	)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.withTimeout(ctx, s.Lines.Ping)
}

func (s *Service) deleteCart(ctx context.Context, userID string) error {
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.Lines.DeleteCart(ctx, userID)
	})
	if err != nil {
		return storeErr("delete cart", err)
	}

	if s.History == nil {
		return nil
	}
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.History.DeleteCart(ctx, userID)
	})
	if err != nil {
		return storeErr("delete cart history", err)
	}
	return nil
}

// forgetEmptiedCart drops the durable rows once the last line is gone, so a
// later List does not load the removed lines back.
func (s *Service) forgetEmptiedCart(ctx context.Context, userID string) error {
	if s.History == nil {
		return nil
	}

	var exists bool
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.Lines.CartExists(ctx, userID)
		return err
	})
	if err != nil {
		return storeErr("cart exists", err)
	}
	if exists {
		return nil
	}

	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.History.DeleteCart(ctx, userID)
	})
	if err != nil {
		return storeErr("delete cart history", err)
	}
	return nil
}

// armIfMissing arms a cart that is being changed without a cleanup entry,
// which is the case for a cart read back from history.
func (s *Service) armIfMissing(ctx context.Context, userID string) error {
	var armed bool
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		_, armed, err = s.Schedule.DueAt(ctx, userID)
		return err
	})
	if err != nil {
		return storeErr("schedule due", err)
	}
	if armed {
		return nil
	}
	return s.ScheduleCleanup(ctx, userID, s.abandonWindow())
}

func (s *Service) checkCombo(ctx context.Context, comboID int64) error {
	if s.Combos == nil {
		return fmt.Errorf("%w: combo %d: no combo source", ErrComboUnavailable, comboID)
	}

	var parts []Constituent
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		parts, err = s.Combos.ConstituentsOf(ctx, comboID)
		return err
	})
	if err != nil {
		return storeErr("combo constituents", err)
	}

	if len(parts) == 0 {
		return fmt.Errorf("%w: combo %d has no dishes", ErrComboUnavailable, comboID)
	}
	for _, p := range parts {
		if !p.Available {
			s.log().Debug("combo rejected",
				zap.Int64("combo_id", comboID),
				zap.Int64("dish_id", p.DishID),
			)
			return fmt.Errorf("%w: combo %d dish %d", ErrComboUnavailable, comboID, p.DishID)
		}
	}
	return nil
}

// undoFirstLine backs out a first line whose timer could not be armed, so a
// retry starts again from an empty cart and arms it.
func (s *Service) undoFirstLine(ctx context.Context, userID string, item ItemRef) {
	err := s.withTimeout(context.WithoutCancel(ctx), func(ctx context.Context) error {
		_, err := s.Lines.DecrLine(ctx, userID, item)
		return err
	})
	if err != nil && !errors.Is(err, ErrLineNotFound) {
		s.log().Error("undo first cart line failed",
			zap.String("user_id", userID),
			zap.Stringer("item", item),
			zap.Error(err),
		)
	}
}

func (s *Service) withTimeout(parent context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.storeTimeout())
	defer cancel()
	return fn(ctx)
}

// storeErr classifies anything that is not a domain outcome as a retryable
// store failure, deadlines included.
func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrLineNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *Service) abandonWindow() time.Duration {
	if s.AbandonWindow > 0 {
		return s.AbandonWindow
	}
	return DefaultAbandonWindow
}

func (s *Service) storeTimeout() time.Duration {
	if s.StoreTimeout > 0 {
		return s.StoreTimeout
	}
	return DefaultStoreTimeout
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newLineID() string {
	if s.NewLineID != nil {
		return s.NewLineID()
	}
	return "l_" + uuid.NewString()
}

func (s *Service) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
