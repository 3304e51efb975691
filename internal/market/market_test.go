package market

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

type fakeRuntime struct {
	self   domain.InstanceID
	caller domain.InstanceID
	now    time.Time
	sent   []domain.Message
	sentTo []domain.InstanceID
}

func (r *fakeRuntime) Self() domain.InstanceID   { return r.self }
func (r *fakeRuntime) Caller() domain.InstanceID { return r.caller }
func (r *fakeRuntime) Now() time.Time            { return r.now }
func (r *fakeRuntime) Send(to domain.InstanceID, msg domain.Message) {
	r.sent = append(r.sent, msg)
	r.sentTo = append(r.sentTo, to)
}
func (r *fakeRuntime) Call(domain.InstanceID, domain.Operation) {}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMarket(t *testing.T) (*Contract, *fakeRuntime) {
	t.Helper()
	c := New("registry", "spawn-engine")
	rt := &fakeRuntime{self: domain.MarketInstance("m1"), caller: "alice", now: t0}
	err := c.ExecuteOperation(rt, domain.CreateMarket{
		MarketID:   "m1",
		Question:   "Will the election be held?",
		Outcomes:   []string{"Yes", "No"},
		ExpiryTime: t0.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rt.sent, rt.sentTo = nil, nil
	return c, rt
}

func TestCreateMarket(t *testing.T) {
	c := New("registry", "spawn-engine")
	rt := &fakeRuntime{self: domain.MarketInstance("m1"), caller: "alice", now: t0}
	op := domain.CreateMarket{
		MarketID:       "m1",
		Question:       "Q?",
		Outcomes:       []string{"Yes", "No"},
		ExpiryTime:     t0.Add(time.Hour),
		ParentMarketID: "m0",
	}
	if err := c.ExecuteOperation(rt, op); err != nil {
		t.Fatalf("create: %v", err)
	}

	s := c.Snapshot()
	if s.Creator != "alice" {
		t.Errorf("Creator = %s, want alice", s.Creator)
	}
	if !s.TotalStaked.IsZero() || s.Resolved || s.WinningOutcome != "" {
		t.Errorf("fresh market not empty: %+v", s)
	}
	if len(s.Bets) != 2 || len(s.Bets["Yes"]) != 0 {
		t.Errorf("Bets = %v, want two empty lists", s.Bets)
	}

	if len(rt.sent) != 1 || rt.sentTo[0] != "registry" {
		t.Fatalf("sent %v to %v, want one message to registry", rt.sent, rt.sentTo)
	}
	reg, ok := rt.sent[0].(domain.MarketRegistered)
	if !ok {
		t.Fatalf("sent %T, want MarketRegistered", rt.sent[0])
	}
	if reg.Info.MarketID != "m1" || reg.Info.ParentMarketID != "m0" || reg.Info.Instance != domain.MarketInstance("m1") {
		t.Errorf("registered info = %+v", reg.Info)
	}

	// A second create never overwrites.
	rt.caller = "mallory"
	err := c.ExecuteOperation(rt, domain.CreateMarket{MarketID: "m1", Question: "other", Outcomes: []string{"a", "b"}})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("second create err = %v, want ErrAlreadyExists", err)
	}
	if got := c.Snapshot(); got.Question != "Q?" || got.Creator != "alice" {
		t.Errorf("second create changed state: %+v", got)
	}
}

func TestCreateMarketRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name string
		op   domain.CreateMarket
	}{
		{"one outcome", domain.CreateMarket{MarketID: "m1", Outcomes: []string{"Yes"}}},
		{"no outcomes", domain.CreateMarket{MarketID: "m1"}},
		{"duplicate outcomes", domain.CreateMarket{MarketID: "m1", Outcomes: []string{"Yes", "Yes"}}},
		{"empty outcome", domain.CreateMarket{MarketID: "m1", Outcomes: []string{"Yes", ""}}},
		{"empty id", domain.CreateMarket{Outcomes: []string{"Yes", "No"}}},
		{"id differs from instance", domain.CreateMarket{MarketID: "m2", Outcomes: []string{"Yes", "No"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New("registry", "spawn-engine")
			rt := &fakeRuntime{self: domain.MarketInstance("m1"), caller: "alice", now: t0}
			err := c.ExecuteOperation(rt, tc.op)
			if !errors.Is(err, domain.ErrInvalidParameters) {
				t.Errorf("err = %v, want ErrInvalidParameters", err)
			}
			if c.Snapshot().Exists() || len(rt.sent) != 0 {
				t.Error("rejected create changed state or sent messages")
			}
		})
	}
}

func TestPlaceBet(t *testing.T) {
	c, rt := newMarket(t)

	rt.caller = "bob"
	if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(100)}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	rt.caller = "carol"
	if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "No", Amount: domain.Tokens(50)}); err != nil {
		t.Fatalf("bet: %v", err)
	}

	s := c.Snapshot()
	if s.TotalStaked.Cmp(domain.Tokens(150)) != 0 {
		t.Errorf("TotalStaked = %s, want 150", s.TotalStaked)
	}
	bet := s.Bets["Yes"][0]
	if bet.Bettor != "bob" || !bet.Timestamp.Equal(t0) || bet.Amount.Cmp(domain.Tokens(100)) != 0 {
		t.Errorf("bet = %+v", bet)
	}
}

func TestPlaceBetRejections(t *testing.T) {
	t.Run("expired", func(t *testing.T) {
		c, rt := newMarket(t)
		rt.now = t0.Add(24*time.Hour + time.Second)
		err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(1)})
		if !errors.Is(err, domain.ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
	})
	t.Run("at expiry is allowed", func(t *testing.T) {
		c, rt := newMarket(t)
		rt.now = t0.Add(24 * time.Hour)
		if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(1)}); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})
	t.Run("unknown outcome", func(t *testing.T) {
		c, rt := newMarket(t)
		err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Maybe", Amount: domain.Tokens(1)})
		if !errors.Is(err, domain.ErrInvalidOutcome) {
			t.Errorf("err = %v, want ErrInvalidOutcome", err)
		}
	})
	t.Run("resolved", func(t *testing.T) {
		c, rt := newMarket(t)
		if err := c.ExecuteOperation(rt, domain.ResolveMarket{WinningOutcome: "Yes"}); err != nil {
			t.Fatal(err)
		}
		err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(1)})
		if !errors.Is(err, domain.ErrAlreadyResolved) {
			t.Errorf("err = %v, want ErrAlreadyResolved", err)
		}
		if !c.Snapshot().TotalStaked.IsZero() {
			t.Error("rejected bet changed total")
		}
	})
	t.Run("not created", func(t *testing.T) {
		c := New("registry", "spawn-engine")
		rt := &fakeRuntime{self: domain.MarketInstance("m9"), caller: "bob", now: t0}
		err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(1)})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestPlaceBetSaturates(t *testing.T) {
	c, rt := newMarket(t)
	for _, outcome := range []string{"Yes", "No"} {
		if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: outcome, Amount: domain.MaxAmount()}); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.Snapshot().TotalStaked; got.Cmp(domain.MaxAmount()) != 0 {
		t.Errorf("TotalStaked = %s, want max", got)
	}
}

func TestResolveMarket(t *testing.T) {
	c, rt := newMarket(t)
	rt.caller = "bob"
	if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(150)}); err != nil {
		t.Fatal(err)
	}

	err := c.ExecuteOperation(rt, domain.ResolveMarket{WinningOutcome: "Yes"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-creator resolve err = %v, want ErrUnauthorized", err)
	}
	if c.Snapshot().Resolved || len(rt.sent) != 0 {
		t.Fatal("rejected resolve changed state or sent messages")
	}

	rt.caller = "alice"
	if err := c.ExecuteOperation(rt, domain.ResolveMarket{WinningOutcome: "Maybe"}); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Fatalf("unknown outcome err = %v, want ErrInvalidOutcome", err)
	}
	if err := c.ExecuteOperation(rt, domain.ResolveMarket{WinningOutcome: "Yes"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	s := c.Snapshot()
	if !s.Resolved || s.WinningOutcome != "Yes" {
		t.Errorf("resolved=%v winner=%q", s.Resolved, s.WinningOutcome)
	}
	if len(rt.sent) != 1 || rt.sentTo[0] != "spawn-engine" {
		t.Fatalf("sent %v to %v, want one notification to the engine", rt.sent, rt.sentTo)
	}
	n := rt.sent[0].(domain.ResolutionNotification)
	want := domain.ResolutionNotification{
		MarketID:       "m1",
		Question:       "Will the election be held?",
		WinningOutcome: "Yes",
		TotalStake:     domain.Tokens(150),
	}
	if n.MarketID != want.MarketID || n.Question != want.Question || n.WinningOutcome != want.WinningOutcome || n.TotalStake.Cmp(want.TotalStake) != 0 {
		t.Errorf("notification = %+v, want %+v", n, want)
	}

	if err := c.ExecuteOperation(rt, domain.ResolveMarket{WinningOutcome: "No"}); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second resolve err = %v, want ErrAlreadyResolved", err)
	}
	if c.Snapshot().WinningOutcome != "Yes" || len(rt.sent) != 1 {
		t.Error("second resolve changed state or sent another notification")
	}
}

func TestOdds(t *testing.T) {
	c, rt := newMarket(t)

	for _, row := range Odds(c.Snapshot()) {
		if row.Odds != 1.0 {
			t.Errorf("empty market odds[%s] = %v, want 1.0", row.Outcome, row.Odds)
		}
	}

	rt.caller = "u1"
	if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(100)}); err != nil {
		t.Fatal(err)
	}
	odds := Odds(c.Snapshot())
	if odds[0].Odds != 1.0 || odds[1].Odds != 0.0 {
		t.Errorf("one-sided odds = %v / %v, want 1.0 / 0.0", odds[0].Odds, odds[1].Odds)
	}

	rt.caller = "u2"
	if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "No", Amount: domain.Tokens(50)}); err != nil {
		t.Fatal(err)
	}
	odds = Odds(c.Snapshot())
	want := map[string]float64{"Yes": 1.5, "No": 3.0}
	for _, row := range odds {
		if row.Odds != want[row.Outcome] {
			t.Errorf("odds[%s] = %v, want %v", row.Outcome, row.Odds, want[row.Outcome])
		}
	}
	if p := odds[0].Probability; p < 0.6666 || p > 0.6667 {
		t.Errorf("probability[Yes] = %v, want 2/3", p)
	}
}

func TestBetsBy(t *testing.T) {
	c, rt := newMarket(t)
	bets := []struct {
		who     domain.InstanceID
		outcome string
		amount  uint64
	}{
		{"u1", "No", 5},
		{"u2", "Yes", 7},
		{"u1", "Yes", 3},
		{"u1", "No", 2},
	}
	for _, b := range bets {
		rt.caller = b.who
		if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: b.outcome, Amount: domain.Tokens(b.amount)}); err != nil {
			t.Fatal(err)
		}
	}

	got := BetsBy(c.Snapshot(), "u1")
	wantOutcomes := []string{"Yes", "No", "No"}
	if len(got) != len(wantOutcomes) {
		t.Fatalf("len = %d, want %d", len(got), len(wantOutcomes))
	}
	for i, pb := range got {
		if pb.Outcome != wantOutcomes[i] {
			t.Errorf("bet %d outcome = %s, want %s", i, pb.Outcome, wantOutcomes[i])
		}
	}
	if got[1].Amount.Cmp(domain.Tokens(5)) != 0 {
		t.Errorf("first No bet = %s, want 5", got[1].Amount)
	}
	if len(BetsBy(c.Snapshot(), "nobody")) != 0 {
		t.Error("unknown bettor has bets")
	}
}

func TestSpawnedIDsReservedForRegistry(t *testing.T) {
	self := domain.MarketInstance("market_0")
	op := domain.CreateMarket{MarketID: "market_0", Question: "carol's own", Outcomes: []string{"Up", "Down"}, ExpiryTime: t0.Add(time.Hour)}

	c := New("registry", "spawn-engine")
	rt := &fakeRuntime{self: self, caller: "carol", now: t0}
	if err := c.ExecuteOperation(rt, op); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("create by carol err = %v, want ErrUnauthorized", err)
	}
	if c.Snapshot().Exists() || len(rt.sent) != 0 {
		t.Fatal("rejected create changed state or sent messages")
	}

	rt.caller = "registry"
	if err := c.ExecuteOperation(rt, op); err != nil {
		t.Fatalf("create by registry: %v", err)
	}
	if got := c.Snapshot().Creator; got != "registry" {
		t.Errorf("Creator = %s, want registry", got)
	}
	if err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Up", Amount: domain.Tokens(25)}); err != nil {
		t.Errorf("seed bet on registry market: %v", err)
	}
}

func TestRegistrySeedRejectedOnUserMarket(t *testing.T) {
	c, rt := newMarket(t)
	rt.caller = "registry"
	err := c.ExecuteOperation(rt, domain.PlaceBet{Outcome: "Yes", Amount: domain.Tokens(25)})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("seed bet err = %v, want ErrUnauthorized", err)
	}
	if s := c.Snapshot(); !s.TotalStaked.IsZero() || len(s.Bets["Yes"]) != 0 {
		t.Errorf("seed landed on alice's market: %+v", s)
	}
}
