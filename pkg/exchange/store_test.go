package exchange

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/pebble"

	"github.com/flashdex/flashdex/pkg/token"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "exchange.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// persistedFixture builds an engine over the given store, sharing token
// ledgers with fx so a reopened engine sees the same assets.
func persistedFixture(t *testing.T, s *Store) *fixture {
	t.Helper()
	return newTestExchange(t, 10, 0, WithStore(s))
}

func TestStoreReloadsState(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "exchange.db")

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	fx := newTestExchange(t, 10, 0, WithStore(s))
	fx.fund(t, fx.fdx, alice, token.Units(100))
	fx.fund(t, fx.musdc, bob, token.Units(20))

	// one cancelled, one filled, one open order
	o1, _ := fx.eng.MakeOrder(alice, fx.musdc.Address(), token.Units(1), fx.fdx.Address(), token.Units(1))
	if err := fx.eng.CancelOrder(alice, o1.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	o2, _ := fx.eng.MakeOrder(alice, fx.musdc.Address(), token.Units(10), fx.fdx.Address(), token.Units(10))
	if err := fx.eng.FillOrder(bob, o2.ID); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if _, err := fx.eng.MakeOrder(alice, fx.musdc.Address(), token.Units(2), fx.fdx.Address(), token.Units(2)); err != nil {
		t.Fatalf("make failed: %v", err)
	}
	if err := fx.eng.Withdraw(fx.fdx.Address(), alice, token.Units(5)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	digest := fx.eng.StateDigest()
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// reopen and rebuild an engine from disk
	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	reg := token.NewRegistry()
	reg.Register(fx.fdx)
	reg.Register(fx.musdc)
	eng2, err := New(Config{
		Address:    exchangeAddr,
		FeeAccount: feeAcct,
		FeePercent: 10,
	}, reg, WithStore(s2))
	if err != nil {
		t.Fatalf("failed to rebuild engine: %v", err)
	}

	if eng2.StateDigest() != digest {
		t.Error("reloaded engine disagrees with the original digest")
	}
	if eng2.OrderCount() != 3 {
		t.Errorf("order count = %d, want 3", eng2.OrderCount())
	}

	got, ok := eng2.Order(o1.ID)
	if !ok || got.Status != OrderCancelled {
		t.Errorf("order %d status = %v, want cancelled", o1.ID, got)
	}
	got, ok = eng2.Order(o2.ID)
	if !ok || got.Status != OrderFilled {
		t.Errorf("order %d status = %v, want filled", o2.ID, got)
	}

	if bal := eng2.TotalBalanceOf(fx.fdx.Address(), alice); bal.Cmp(token.Units(85)) != 0 {
		t.Errorf("alice FDX custody = %s, want %s", bal, token.Units(85)) // 100 - 10 - 5
	}
	if bal := eng2.TotalBalanceOf(fx.musdc.Address(), feeAcct); bal.Cmp(token.Units(1)) != 0 {
		t.Errorf("fee custody = %s, want %s", bal, token.Units(1))
	}

	// the reloaded engine keeps counting from where it left off
	o4, err := eng2.MakeOrder(alice, fx.musdc.Address(), token.Units(1), fx.fdx.Address(), token.Units(1))
	if err != nil {
		t.Fatalf("make after reload failed: %v", err)
	}
	if o4.ID != 4 {
		t.Errorf("next order id = %d, want 4", o4.ID)
	}
}

func TestStoreEventHistory(t *testing.T) {
	s := newTestStore(t)
	fx := persistedFixture(t, s)

	fx.fund(t, fx.fdx, alice, token.Units(100))                                                   // deposit
	o, _ := fx.eng.MakeOrder(alice, fx.musdc.Address(), token.Units(1), fx.fdx.Address(), token.Units(1)) // order
	fx.eng.CancelOrder(alice, o.ID)                                                               // cancel
	fx.eng.Withdraw(fx.fdx.Address(), alice, token.Units(10))                                     // withdraw

	events, err := fx.eng.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("event count = %d, want 4", len(events))
	}
	// newest first
	wantKinds := []EventKind{EventWithdraw, EventCancel, EventOrder, EventDeposit}
	for i, want := range wantKinds {
		if events[i].Kind != want {
			t.Errorf("events[%d].Kind = %s, want %s", i, events[i].Kind, want)
		}
	}

	// limit truncates from the newest end
	events, err = fx.eng.RecentEvents(2)
	if err != nil {
		t.Fatalf("recent events failed: %v", err)
	}
	if len(events) != 2 || events[0].Kind != EventWithdraw || events[1].Kind != EventCancel {
		t.Errorf("limited events = %v", events)
	}
}

// TestLoadStateRejectsCorruption: a corrupt persisted entry must fail the
// reload loudly instead of silently dropping part of the ledger.
func TestLoadStateRejectsCorruption(t *testing.T) {
	goodAsset := "0x1111111111111111111111111111111111111111"
	goodAccount := "0x2222222222222222222222222222222222222222"

	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"truncated balance key", "bal:garbage", "1"},
		{"non-numeric balance value", "bal:" + goodAsset + ":" + goodAccount, "lots"},
		{"unparseable order", "ord:00000000000000000001", "{not json"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newTestStore(t)
			if err := s.db.Set([]byte(c.key), []byte(c.value), pebble.Sync); err != nil {
				t.Fatalf("failed to plant entry: %v", err)
			}

			if _, err := s.LoadState(); err == nil {
				t.Fatal("expected load to fail")
			} else if !strings.Contains(err.Error(), "corrupt") {
				t.Errorf("error = %v, want corruption report", err)
			}

			// engine construction refuses the store outright
			reg := token.NewRegistry()
			if _, err := New(Config{Address: exchangeAddr, FeeAccount: feeAcct}, reg, WithStore(s)); err == nil {
				t.Error("expected engine construction to fail on corrupt store")
			}
		})
	}
}

func TestRecentEventsWithoutStore(t *testing.T) {
	fx := newTestExchange(t, 10, 0)
	fx.fund(t, fx.fdx, alice, token.Units(1))

	events, err := fx.eng.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("ephemeral engine returned %d events, want 0", len(events))
	}
}
