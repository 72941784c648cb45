package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestService_AddDecrementScenario(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			lines, sched := b.open(t)
			clock := newFakeClock()
			svc := newTestService(t, lines, sched, clock)
			ctx := context.Background()

			ref, err := svc.AddOrIncrement(ctx, "42", Dish(7), Details{})
			if err != nil || ref != Dish(7) {
				t.Fatalf("add: ref=%v err=%v", ref, err)
			}

			got, err := svc.List(ctx, "42")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 1 || got[0].Item != Dish(7) || got[0].Quantity != 1 || got[0].UserID != "42" {
				t.Fatalf("list=%+v", got)
			}

			wantDue := clock.Now().Add(5 * time.Minute)
			due, ok, _ := sched.DueAt(ctx, "42")
			if !ok || !due.Equal(wantDue) {
				t.Fatalf("due=%v ok=%v want=%v", due, ok, wantDue)
			}

			clock.Advance(time.Minute)
			if _, err := svc.AddOrIncrement(ctx, "42", Dish(7), Details{}); err != nil {
				t.Fatalf("second add: %v", err)
			}
			line, _, _ := lines.GetLine(ctx, "42", Dish(7))
			if line.Quantity != 2 {
				t.Fatalf("qty=%d", line.Quantity)
			}
			if due, _, _ := sched.DueAt(ctx, "42"); !due.Equal(wantDue) {
				t.Fatalf("second add must not re-arm: due=%v want=%v", due, wantDue)
			}

			for i := 0; i < 2; i++ {
				if _, err := svc.Decrement(ctx, "42", Dish(7)); err != nil {
					t.Fatalf("decrement %d: %v", i, err)
				}
			}
			if _, ok, _ := lines.GetLine(ctx, "42", Dish(7)); ok {
				t.Fatalf("line must be gone")
			}
			got, err = svc.List(ctx, "42")
			if err != nil || len(got) != 0 {
				t.Fatalf("list after decrements=%+v err=%v", got, err)
			}
		})
	}
}

func TestService_AddNTimes(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			lines, sched := b.open(t)
			svc := newTestService(t, lines, sched, newFakeClock())
			ctx := context.Background()

			for _, n := range []int64{1, 3, 8} {
				user := "u" + string(rune('0'+n))
				for i := int64(0); i < n; i++ {
					if _, err := svc.AddOrIncrement(ctx, user, Combo(1), Details{}); err != nil {
						t.Fatalf("add: %v", err)
					}
				}
				line, ok, err := lines.GetLine(ctx, user, Combo(1))
				if err != nil || !ok || line.Quantity != n {
					t.Fatalf("n=%d line=%+v ok=%v err=%v", n, line, ok, err)
				}

				for i := int64(0); i < n; i++ {
					if _, err := svc.Decrement(ctx, user, Combo(1)); err != nil {
						t.Fatalf("decrement: %v", err)
					}
				}
				if _, ok, _ := lines.GetLine(ctx, user, Combo(1)); ok {
					t.Fatalf("n=%d: line survived decrement to zero", n)
				}
			}
		})
	}
}

func TestService_DecrementMissing(t *testing.T) {
	svc := newTestService(t, NewMemStore(), NewMemSchedule(), newFakeClock())

	_, err := svc.Decrement(context.Background(), "42", Dish(7))
	if !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestService_InvalidItem(t *testing.T) {
	svc := newTestService(t, NewMemStore(), NewMemSchedule(), newFakeClock())
	ctx := context.Background()

	if _, err := svc.AddOrIncrement(ctx, "42", ItemRef{Kind: "drink", ID: 1}, Details{}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("add err=%v", err)
	}
	if _, err := svc.Decrement(ctx, "42", Dish(0)); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("decrement err=%v", err)
	}
}

func TestService_ComboAvailability(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			lines, sched := b.open(t)
			svc := newTestService(t, lines, sched, newFakeClock())
			ctx := context.Background()

			if _, err := svc.AddOrIncrement(ctx, "42", Combo(2), Details{}); !errors.Is(err, ErrComboUnavailable) {
				t.Fatalf("withdrawn dish: err=%v", err)
			}
			if _, err := svc.AddOrIncrement(ctx, "42", Combo(99), Details{}); !errors.Is(err, ErrComboUnavailable) {
				t.Fatalf("unknown combo: err=%v", err)
			}

			got, _ := svc.List(ctx, "42")
			if len(got) != 0 {
				t.Fatalf("rejected combo left lines: %+v", got)
			}
			if _, ok, _ := sched.DueAt(ctx, "42"); ok {
				t.Fatalf("rejected combo armed the schedule")
			}

			if _, err := svc.AddOrIncrement(ctx, "42", Dish(7), Details{}); err != nil {
				t.Fatalf("add dish: %v", err)
			}
			if _, err := svc.AddOrIncrement(ctx, "42", Combo(2), Details{}); !errors.Is(err, ErrComboUnavailable) {
				t.Fatalf("withdrawn dish: err=%v", err)
			}
			got, _ = svc.List(ctx, "42")
			if len(got) != 1 || got[0].Item != Dish(7) {
				t.Fatalf("list changed by rejected add: %+v", got)
			}

			if _, err := svc.AddOrIncrement(ctx, "42", Combo(1), Details{}); err != nil {
				t.Fatalf("available combo: %v", err)
			}
		})
	}
}

func TestService_ComboSourceFailure(t *testing.T) {
	svc := newTestService(t, NewMemStore(), NewMemSchedule(), newFakeClock())
	svc.Combos = errCombos{err: errBoom}

	_, err := svc.AddOrIncrement(context.Background(), "42", Combo(1), Details{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestService_ClearThenList(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			lines, sched := b.open(t)
			svc := newTestService(t, lines, sched, newFakeClock())
			hist := newFakeHistory()
			svc.History = hist
			ctx := context.Background()

			_, _ = svc.AddOrIncrement(ctx, "42", Dish(7), Details{})
			_, _ = svc.AddOrIncrement(ctx, "42", Combo(1), Details{})
			hist.carts["42"] = []LineItem{{Item: Dish(7), Quantity: 1}}

			if err := svc.Clear(ctx, "42"); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if err := svc.Clear(ctx, "42"); err != nil {
				t.Fatalf("Clear twice: %v", err)
			}

			got, err := svc.List(ctx, "42")
			if err != nil || len(got) != 0 {
				t.Fatalf("list after clear=%+v err=%v", got, err)
			}
			if _, ok, _ := sched.DueAt(ctx, "42"); ok {
				t.Fatalf("clear must disarm")
			}
			if exists, _ := lines.CartExists(ctx, "42"); exists {
				t.Fatalf("clear must delete the container")
			}
		})
	}
}

func TestService_ListRepopulatesFromHistory(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			lines, sched := b.open(t)
			svc := newTestService(t, lines, sched, newFakeClock())
			hist := newFakeHistory()
			svc.History = hist
			ctx := context.Background()

			hist.carts["42"] = []LineItem{
				{LineID: "h_1", Item: Dish(7), Quantity: 2, Details: Details{Name: "Fried rice"}},
				{LineID: "h_2", Item: Combo(1), Quantity: 1},
				{LineID: "h_3", Item: ItemRef{Kind: "drink", ID: 4}, Quantity: 1},
				{LineID: "h_4", Item: Dish(8), Quantity: 0},
			}

			got, err := svc.List(ctx, "42")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("list=%+v", got)
			}

			if exists, _ := lines.CartExists(ctx, "42"); !exists {
				t.Fatalf("history must be written back to the fast store")
			}
			line, ok, _ := lines.GetLine(ctx, "42", Dish(7))
			if !ok || line.Quantity != 2 || line.Name != "Fried rice" || line.UserID != "42" {
				t.Fatalf("repopulated line=%+v ok=%v", line, ok)
			}
			if _, ok, _ := sched.DueAt(ctx, "42"); ok {
				t.Fatalf("a read must not arm the schedule")
			}

			hist.carts["42"] = nil
			again, err := svc.List(ctx, "42")
			if err != nil || len(again) != 2 {
				t.Fatalf("second list must come from the fast store: %+v err=%v", again, err)
			}
		})
	}
}

func TestService_ScheduleCleanup(t *testing.T) {
	clock := newFakeClock()
	sched := NewMemSchedule()
	svc := newTestService(t, NewMemStore(), sched, clock)
	ctx := context.Background()

	if err := svc.ScheduleCleanup(ctx, "42", 3*time.Minute); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if due, ok, _ := sched.DueAt(ctx, "42"); !ok || !due.Equal(clock.Now().Add(3*time.Minute)) {
		t.Fatalf("due=%v ok=%v", due, ok)
	}

	for _, d := range []time.Duration{0, -time.Minute} {
		_ = svc.ScheduleCleanup(ctx, "42", time.Minute)
		if err := svc.ScheduleCleanup(ctx, "42", d); err != nil {
			t.Fatalf("cancel(%s): %v", d, err)
		}
		if _, ok, _ := sched.DueAt(ctx, "42"); ok {
			t.Fatalf("delay %s must cancel the entry", d)
		}
	}
}

func TestService_StoreTimeoutIsUnavailable(t *testing.T) {
	svc := newTestService(t, blockingLines{LineStore: NewMemStore()}, NewMemSchedule(), newFakeClock())
	svc.StoreTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := svc.AddOrIncrement(context.Background(), "42", Dish(7), Details{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied")
	}
}

func TestService_ArmFailureUndoesFirstLine(t *testing.T) {
	lines := NewMemStore()
	svc := newTestService(t, lines, failingArm{ScheduleIndex: NewMemSchedule()}, newFakeClock())
	ctx := context.Background()

	if _, err := svc.AddOrIncrement(ctx, "42", Dish(7), Details{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if exists, _ := lines.CartExists(ctx, "42"); exists {
		t.Fatalf("cart without a schedule entry was left behind")
	}
}

func TestService_ConcurrentAdds(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			lines, sched := b.open(t)
			svc := newTestService(t, lines, sched, newFakeClock())

			const n = 100
			g, ctx := errgroup.WithContext(context.Background())
			for i := 0; i < n; i++ {
				g.Go(func() error {
					_, err := svc.AddOrIncrement(ctx, "42", Dish(7), Details{})
					return err
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("concurrent add: %v", err)
			}

			line, _, _ := lines.GetLine(context.Background(), "42", Dish(7))
			if line.Quantity != n {
				t.Fatalf("qty=%d want=%d", line.Quantity, n)
			}
			entries, _ := sched.PopDue(context.Background(), time.Unix(1<<40, 0), 10)
			if len(entries) != 1 {
				t.Fatalf("schedule entries=%+v", entries)
			}
		})
	}
}

func TestService_DecrementOfHistoryCart(t *testing.T) {
	cases := []struct {
		name        string
		history     []LineItem
		decrement   []ItemRef
		wantLines   int
		wantDeleted bool
	}{
		{
			name:        "last line to zero forgets history",
			history:     []LineItem{{LineID: "h_1", Item: Dish(7), Quantity: 1}},
			decrement:   []ItemRef{Dish(7)},
			wantLines:   0,
			wantDeleted: true,
		},
		{
			name:        "multi quantity line to zero forgets history",
			history:     []LineItem{{LineID: "h_1", Item: Combo(1), Quantity: 2}},
			decrement:   []ItemRef{Combo(1), Combo(1)},
			wantLines:   0,
			wantDeleted: true,
		},
		{
			name: "other lines keep history",
			history: []LineItem{
				{LineID: "h_1", Item: Dish(7), Quantity: 1},
				{LineID: "h_2", Item: Dish(8), Quantity: 1},
			},
			decrement:   []ItemRef{Dish(7)},
			wantLines:   1,
			wantDeleted: false,
		},
	}

	for _, b := range backends() {
		for _, tc := range cases {
			t.Run(b.name+"/"+tc.name, func(t *testing.T) {
				lines, sched := b.open(t)
				svc := newTestService(t, lines, sched, newFakeClock())
				hist := newFakeHistory()
				hist.carts["42"] = tc.history
				svc.History = hist
				ctx := context.Background()

				if got, err := svc.List(ctx, "42"); err != nil || len(got) != len(tc.history) {
					t.Fatalf("first list=%+v err=%v", got, err)
				}
				for _, item := range tc.decrement {
					if _, err := svc.Decrement(ctx, "42", item); err != nil {
						t.Fatalf("decrement %s: %v", item, err)
					}
				}

				got, err := svc.List(ctx, "42")
				if err != nil || len(got) != tc.wantLines {
					t.Fatalf("list after decrement=%+v err=%v", got, err)
				}
				if deleted := len(hist.deleted) > 0; deleted != tc.wantDeleted {
					t.Fatalf("history deleted=%v want=%v", hist.deleted, tc.wantDeleted)
				}
			})
		}
	}
}

func TestService_HistoryCartArmedOnFirstChange(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			lines, sched := b.open(t)
			clock := newFakeClock()
			svc := newTestService(t, lines, sched, clock)
			hist := newFakeHistory()
			hist.carts["42"] = []LineItem{{LineID: "h_1", Item: Dish(7), Quantity: 1}}
			svc.History = hist
			ctx := context.Background()

			if _, err := svc.List(ctx, "42"); err != nil {
				t.Fatalf("List: %v", err)
			}
			if _, ok, _ := sched.DueAt(ctx, "42"); ok {
				t.Fatalf("a read must not arm the schedule")
			}

			clock.Advance(time.Minute)
			if _, err := svc.AddOrIncrement(ctx, "42", Dish(7), Details{}); err != nil {
				t.Fatalf("add: %v", err)
			}
			wantDue := clock.Now().Add(5 * time.Minute)
			due, ok, _ := sched.DueAt(ctx, "42")
			if !ok || !due.Equal(wantDue) {
				t.Fatalf("due=%v ok=%v want=%v", due, ok, wantDue)
			}

			clock.Advance(time.Minute)
			if _, err := svc.AddOrIncrement(ctx, "42", Dish(8), Details{}); err != nil {
				t.Fatalf("add: %v", err)
			}
			if due, _, _ := sched.DueAt(ctx, "42"); !due.Equal(wantDue) {
				t.Fatalf("armed cart must keep its due time: due=%v want=%v", due, wantDue)
			}

			clock.Advance(5 * time.Minute)
			if purged, err := (&Sweeper{Service: svc}).Tick(ctx); err != nil || purged != 1 {
				t.Fatalf("purged=%d err=%v", purged, err)
			}
			if exists, _ := lines.CartExists(ctx, "42"); exists {
				t.Fatalf("history cart was never swept")
			}
		})
	}
}
