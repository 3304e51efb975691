package spawn

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

type fakeRuntime struct {
	caller domain.InstanceID
	now    time.Time
	sent   []domain.MarketCreationRequest
	to     []domain.InstanceID
}

func (r *fakeRuntime) Self() domain.InstanceID   { return "spawn-engine" }
func (r *fakeRuntime) Caller() domain.InstanceID { return r.caller }
func (r *fakeRuntime) Now() time.Time            { return r.now }
func (r *fakeRuntime) Send(to domain.InstanceID, msg domain.Message) {
	r.sent = append(r.sent, msg.(domain.MarketCreationRequest))
	r.to = append(r.to, to)
}
func (r *fakeRuntime) Call(domain.InstanceID, domain.Operation) {}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

var binary = domain.SpawnTemplate{
	QuestionTemplate:    "After {outcome} in {parent_market_id}, what next for {parent_question}?",
	Outcomes:            []string{"Up", "Down"},
	ExpiryOffsetSeconds: 3600,
	SeedLiquidityRatio:  0.1,
}

func newEngine() *Engine {
	return New(Config{
		Registry:              "registry",
		DefaultRules:          DefaultRules(),
		DeferredStakeBaseline: domain.Tokens(1000),
	})
}

func addRule(t *testing.T, e *Engine, rt *fakeRuntime, id string, cond domain.TriggerCondition, tpl domain.SpawnTemplate) {
	t.Helper()
	op := domain.CreateSpawnRule{RuleID: id, TriggerCondition: domain.Trigger{Condition: cond}, SpawnTemplate: tpl}
	if err := e.ExecuteOperation(rt, op); err != nil {
		t.Fatalf("create rule %s: %v", id, err)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name     string
		cond     domain.TriggerCondition
		question string
		outcome  string
		want     bool
	}{
		{"substring", domain.MarketResolutionTrigger{MarketPattern: "election"}, "Who wins the 2028 election?", "Candidate A", true},
		{"case folded", domain.MarketResolutionTrigger{MarketPattern: "election", OutcomePattern: "candidate"}, "Who wins the ELECTION?", "CANDIDATE A", true},
		{"outcome mismatch", domain.MarketResolutionTrigger{MarketPattern: "election", OutcomePattern: "yes"}, "Election?", "No", false},
		{"question mismatch", domain.MarketResolutionTrigger{MarketPattern: "championship"}, "Election?", "Yes", false},
		{"not a regex", domain.MarketResolutionTrigger{MarketPattern: ".*election.*"}, "the election", "Yes", false},
		{"empty patterns", domain.MarketResolutionTrigger{}, "anything", "at all", true},
		{"time delay", domain.TimeDelayTrigger{DelaySeconds: 60}, "q", "o", true},
		{"custom logic", domain.CustomLogicTrigger{LogicHash: common.HexToHash("0x01")}, "q", "o", false},
		{"nil", nil, "q", "o", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.cond, tc.question, tc.outcome); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFillTemplate(t *testing.T) {
	got := FillTemplate(binary.QuestionTemplate, "m1", "Yes")
	want := "After Yes in m1, what next for the previous event?"
	if got != want {
		t.Errorf("FillTemplate = %q, want %q", got, want)
	}
	if got := FillTemplate("{outcome} {outcome}", "m1", "X"); got != "X X" {
		t.Errorf("repeated placeholder = %q", got)
	}
	// Substitution runs in order, so an outcome containing a later
	// placeholder is itself substituted.
	if got := FillTemplate("{outcome}", "m1", "{parent_question}"); got != ParentQuestionFiller {
		t.Errorf("ordered fill = %q, want %q", got, ParentQuestionFiller)
	}
}

func TestImmediateSpawn(t *testing.T) {
	e := New(Config{Registry: "registry", DeferredStakeBaseline: domain.Tokens(1000)})
	rt := &fakeRuntime{caller: "alice", now: t0}
	addRule(t, e, rt, "instant", domain.TimeDelayTrigger{DelaySeconds: 0}, binary)

	err := e.HandleMessage(rt, domain.ResolutionNotification{
		MarketID: "m1", Question: "Q?", WinningOutcome: "Yes", TotalStake: domain.Tokens(150),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(rt.sent) != 1 || rt.to[0] != "registry" {
		t.Fatalf("sent %d requests to %v, want 1 to registry", len(rt.sent), rt.to)
	}
	req := rt.sent[0]
	if req.SeedLiquidity.Cmp(domain.Tokens(15)) != 0 {
		t.Errorf("seed = %s, want 15", req.SeedLiquidity)
	}
	if req.Question != "After Yes in m1, what next for the previous event?" {
		t.Errorf("question = %q", req.Question)
	}
	if !req.ExpiryTime.Equal(t0.Add(time.Hour)) {
		t.Errorf("expiry = %v, want %v", req.ExpiryTime, t0.Add(time.Hour))
	}
	if req.ParentMarketID != "m1" || len(req.Outcomes) != 2 {
		t.Errorf("request = %+v", req)
	}
	if n := len(e.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0 for the immediate path", n)
	}
	// A later sweep must not open a second child for the same resolution.
	rt.now = t0.Add(time.Hour)
	if err := e.ExecuteOperation(rt, domain.ProcessPendingSpawns{}); err != nil {
		t.Fatal(err)
	}
	if len(rt.sent) != 1 {
		t.Errorf("sweep after immediate spawn sent %d requests in total, want 1", len(rt.sent))
	}
}

func TestDeferredSpawn(t *testing.T) {
	e := newEngine()
	rt := &fakeRuntime{caller: "operator", now: t0}
	if err := e.ExecuteOperation(rt, domain.InitializeSpawner{Admin: "operator"}); err != nil {
		t.Fatal(err)
	}

	if err := e.HandleMessage(rt, domain.ResolutionNotification{
		MarketID: "m7", Question: "Who wins the ELECTION?", WinningOutcome: "Candidate A", TotalStake: domain.Tokens(500),
	}); err != nil {
		t.Fatal(err)
	}
	if len(rt.sent) != 0 {
		t.Fatalf("deferred rule sent %d requests on resolution", len(rt.sent))
	}
	pending := e.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	p := pending[0]
	if p.RuleID != "political_consequences" || p.ParentMarketID != "m7" || p.ParentOutcome != "Candidate A" {
		t.Errorf("pending = %+v", p)
	}
	if !p.ScheduledTime.Equal(t0) || p.Processed {
		t.Errorf("scheduled=%v processed=%v, want %v false", p.ScheduledTime, p.Processed, t0)
	}
	if !strings.HasPrefix(p.SpawnID, "political_consequences_") {
		t.Errorf("spawn id = %s", p.SpawnID)
	}

	rt.now = t0.Add(time.Minute)
	if err := e.ExecuteOperation(rt, domain.ProcessPendingSpawns{}); err != nil {
		t.Fatal(err)
	}
	if len(rt.sent) != 1 {
		t.Fatalf("first sweep sent %d, want 1", len(rt.sent))
	}
	req := rt.sent[0]
	if req.Question != "What will be the economic impact of Candidate A?" {
		t.Errorf("question = %q", req.Question)
	}
	if req.SeedLiquidity.Cmp(domain.Tokens(100)) != 0 {
		t.Errorf("deferred seed = %s, want 100 (baseline 1000 x 0.10)", req.SeedLiquidity)
	}
	if !req.ExpiryTime.Equal(rt.now.Add(30 * 24 * time.Hour)) {
		t.Errorf("expiry = %v", req.ExpiryTime)
	}
	if !e.Pending()[0].Processed {
		t.Error("entry not marked processed")
	}

	if err := e.ExecuteOperation(rt, domain.ProcessPendingSpawns{}); err != nil {
		t.Fatal(err)
	}
	if len(rt.sent) != 1 {
		t.Errorf("second sweep sent %d more requests", len(rt.sent)-1)
	}
	if len(e.Pending()) != 1 {
		t.Error("processed entry was removed")
	}
}

func TestSweepSkipsFutureEntries(t *testing.T) {
	e := newEngine()
	rt := &fakeRuntime{caller: "alice", now: t0}
	addRule(t, e, rt, "later", domain.TimeDelayTrigger{DelaySeconds: 60}, binary)
	if err := e.HandleMessage(rt, domain.ResolutionNotification{MarketID: "m1", Question: "q", WinningOutcome: "Yes"}); err != nil {
		t.Fatal(err)
	}

	rt.now = t0.Add(-time.Second)
	if err := e.ExecuteOperation(rt, domain.ProcessPendingSpawns{}); err != nil {
		t.Fatal(err)
	}
	if len(rt.sent) != 0 {
		t.Errorf("sweep before scheduled time sent %d", len(rt.sent))
	}
	rt.now = t0
	if err := e.ExecuteOperation(rt, domain.ProcessPendingSpawns{}); err != nil {
		t.Fatal(err)
	}
	if len(rt.sent) != 1 {
		t.Errorf("sweep at scheduled time sent %d, want 1", len(rt.sent))
	}
}

func TestResolutionSkipsInactiveAndCustomRules(t *testing.T) {
	e := New(Config{Registry: "registry"})
	rt := &fakeRuntime{caller: "alice", now: t0}
	addRule(t, e, rt, "custom", domain.CustomLogicTrigger{LogicHash: common.HexToHash("0xabc")}, binary)
	addRule(t, e, rt, "paused", domain.TimeDelayTrigger{}, binary)
	if err := e.ExecuteOperation(rt, domain.UpdateSpawnRule{RuleID: "paused", Active: false}); err != nil {
		t.Fatal(err)
	}

	if err := e.HandleMessage(rt, domain.ResolutionNotification{MarketID: "m1", Question: "q", WinningOutcome: "Yes"}); err != nil {
		t.Fatal(err)
	}
	if len(rt.sent) != 0 || len(e.Pending()) != 0 {
		t.Errorf("sent=%d pending=%d, want nothing", len(rt.sent), len(e.Pending()))
	}
}

func TestRulesEvaluatedInIDOrder(t *testing.T) {
	e := New(Config{Registry: "registry"})
	rt := &fakeRuntime{caller: "alice", now: t0}
	for _, id := range []string{"zeta", "alpha", "mid"} {
		tpl := binary
		tpl.QuestionTemplate = id
		addRule(t, e, rt, id, domain.TimeDelayTrigger{}, tpl)
	}
	if err := e.HandleMessage(rt, domain.ResolutionNotification{MarketID: "m1", Question: "q", WinningOutcome: "Yes"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(rt.sent) != len(want) {
		t.Fatalf("sent %d, want %d", len(rt.sent), len(want))
	}
	for i, w := range want {
		if rt.sent[i].Question != w {
			t.Errorf("request %d from %s, want %s", i, rt.sent[i].Question, w)
		}
	}
}

func TestCreateRuleUpserts(t *testing.T) {
	e := New(Config{Registry: "registry"})
	rt := &fakeRuntime{caller: "alice", now: t0}
	addRule(t, e, rt, "r", domain.TimeDelayTrigger{}, binary)
	if err := e.ExecuteOperation(rt, domain.UpdateSpawnRule{RuleID: "r", Active: false}); err != nil {
		t.Fatal(err)
	}

	rt.caller = "bob"
	replacement := binary
	replacement.SeedLiquidityRatio = 0.5
	addRule(t, e, rt, "r", domain.TimeDelayTrigger{DelaySeconds: 5}, replacement)

	r, err := e.Rule("r")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Active || r.CreatedBy != "bob" || r.SpawnTemplate.SeedLiquidityRatio != 0.5 {
		t.Errorf("rule after upsert = %+v", r)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	e := New(Config{Registry: "registry"})
	rt := &fakeRuntime{caller: "alice", now: t0}
	badRatio := binary
	badRatio.SeedLiquidityRatio = 1.5
	oneOutcome := binary
	oneOutcome.Outcomes = []string{"only"}

	tests := []struct {
		name string
		op   domain.CreateSpawnRule
	}{
		{"empty id", domain.CreateSpawnRule{TriggerCondition: domain.Trigger{Condition: domain.TimeDelayTrigger{}}, SpawnTemplate: binary}},
		{"nil trigger", domain.CreateSpawnRule{RuleID: "r", SpawnTemplate: binary}},
		{"ratio above one", domain.CreateSpawnRule{RuleID: "r", TriggerCondition: domain.Trigger{Condition: domain.TimeDelayTrigger{}}, SpawnTemplate: badRatio}},
		{"one outcome", domain.CreateSpawnRule{RuleID: "r", TriggerCondition: domain.Trigger{Condition: domain.TimeDelayTrigger{}}, SpawnTemplate: oneOutcome}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.ExecuteOperation(rt, tc.op); !errors.Is(err, domain.ErrInvalidParameters) {
				t.Errorf("err = %v, want ErrInvalidParameters", err)
			}
		})
	}
	if len(e.Rules()) != 0 {
		t.Error("rejected rules were stored")
	}
}

func TestUpdateRuleAuthorization(t *testing.T) {
	e := newEngine()
	rt := &fakeRuntime{caller: "operator", now: t0}
	if err := e.ExecuteOperation(rt, domain.InitializeSpawner{Admin: "admin"}); err != nil {
		t.Fatal(err)
	}
	rt.caller = "alice"
	addRule(t, e, rt, "mine", domain.TimeDelayTrigger{}, binary)

	tests := []struct {
		name    string
		caller  domain.InstanceID
		rule    string
		wantErr error
	}{
		{"creator", "alice", "mine", nil},
		{"admin", "admin", "mine", nil},
		{"default rule by installer", "operator", "sports_aftermath", nil},
		{"stranger", "mallory", "mine", domain.ErrUnauthorized},
		{"missing", "admin", "nope", domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt.caller = tc.caller
			err := e.ExecuteOperation(rt, domain.UpdateSpawnRule{RuleID: tc.rule, Active: false})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	e := newEngine()
	rt := &fakeRuntime{caller: "operator", now: t0}
	if err := e.ExecuteOperation(rt, domain.InitializeSpawner{Admin: "admin"}); err != nil {
		t.Fatal(err)
	}
	rules := e.Rules()
	if len(rules) != 2 || rules[0].RuleID != "political_consequences" || rules[1].RuleID != "sports_aftermath" {
		t.Fatalf("rules = %+v", rules)
	}
	for _, r := range rules {
		if !r.Active || r.CreatedBy != "operator" {
			t.Errorf("rule %s active=%v created_by=%s", r.RuleID, r.Active, r.CreatedBy)
		}
	}
	if rules[1].SpawnTemplate.SeedLiquidityRatio != 0.05 || rules[1].SpawnTemplate.ExpiryOffsetSeconds != 90*24*3600 {
		t.Errorf("sports template = %+v", rules[1].SpawnTemplate)
	}

	if err := e.ExecuteOperation(rt, domain.InitializeSpawner{Admin: "other"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("second initialize err = %v, want ErrAlreadyExists", err)
	}
}

func TestConfiguredKeywordRulesExtendDefaults(t *testing.T) {
	defaults := DefaultRules()
	vote := domain.SpawnRule{
		RuleID:           "political_consequences_vote",
		TriggerCondition: domain.Trigger{Condition: domain.MarketResolutionTrigger{MarketPattern: "vote"}},
		SpawnTemplate:    defaults[0].SpawnTemplate,
		Active:           true,
	}
	e := New(Config{
		Registry:              "registry",
		DefaultRules:          append(defaults, vote),
		DeferredStakeBaseline: domain.Tokens(1000),
	})
	rt := &fakeRuntime{caller: "operator", now: t0}
	if err := e.ExecuteOperation(rt, domain.InitializeSpawner{Admin: "operator"}); err != nil {
		t.Fatal(err)
	}
	if err := e.HandleMessage(rt, domain.ResolutionNotification{
		MarketID: "m9", Question: "Will the policy VOTE pass?", WinningOutcome: "Yes", TotalStake: domain.Tokens(10),
	}); err != nil {
		t.Fatal(err)
	}
	pending := e.Pending()
	if len(pending) != 1 || pending[0].RuleID != "political_consequences_vote" {
		t.Errorf("pending = %+v, want one entry from the configured vote rule", pending)
	}
}
