// Package spawn implements the spawn-rule engine. It matches resolved markets
// against rules and turns matches into child market creation requests, either
// immediately or through the pending-spawn queue.
package spawn

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
)

// Kind is the persisted contract kind of the engine instance.
const Kind = "spawn"

// Config wires the engine.
type Config struct {
	// Registry receives creation requests.
	Registry domain.InstanceID
	// DefaultRules are installed by initialization.
	DefaultRules []domain.SpawnRule
	// DeferredStakeBaseline is the stake that deferred spawns seed from.
	DeferredStakeBaseline domain.Amount
}

// State is the engine's persisted state.
type State struct {
	Admin    domain.InstanceID           `json:"admin,omitempty"`
	Rules    map[string]domain.SpawnRule `json:"rules"`
	Pending  []domain.PendingSpawn       `json:"pending"`
	Sequence uint64                      `json:"sequence"`
}

// Engine is the spawn-rule engine instance.
type Engine struct {
	state State
	cfg   Config
}

var _ host.Contract = (*Engine)(nil)

// New returns an engine with no rules.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, state: State{Rules: make(map[string]domain.SpawnRule)}}
}

// Kind implements host.Contract.
func (e *Engine) Kind() string { return Kind }

// State implements host.Contract.
func (e *Engine) State() any { return &e.state }

// Admin returns the configured admin, if any.
func (e *Engine) Admin() domain.InstanceID { return e.state.Admin }

// ExecuteOperation implements host.Contract.
func (e *Engine) ExecuteOperation(rt host.Runtime, op domain.Operation) error {
	if e.state.Rules == nil {
		e.state.Rules = make(map[string]domain.SpawnRule)
	}
	switch o := op.(type) {
	case domain.InitializeSpawner:
		return e.initialize(rt, o)
	case domain.CreateSpawnRule:
		return e.createRule(rt, o)
	case domain.UpdateSpawnRule:
		return e.updateRule(rt, o)
	case domain.ProcessPendingSpawns:
		e.processPending(rt)
		return nil
	default:
		return fmt.Errorf("spawn: unsupported operation %s: %w", op.OperationKind(), domain.ErrInvalidParameters)
	}
}

// HandleMessage implements host.Contract.
func (e *Engine) HandleMessage(rt host.Runtime, msg domain.Message) error {
	switch m := msg.(type) {
	case domain.ResolutionNotification:
		e.onResolution(rt, m)
		return nil
	default:
		return fmt.Errorf("spawn: unsupported message %s: %w", msg.MessageKind(), domain.ErrInvalidParameters)
	}
}

func (e *Engine) initialize(rt host.Runtime, op domain.InitializeSpawner) error {
	if e.state.Admin != "" {
		return fmt.Errorf("spawn: initialize: %w", domain.ErrAlreadyExists)
	}
	if op.Admin == "" {
		return fmt.Errorf("spawn: initialize: empty admin: %w", domain.ErrInvalidParameters)
	}
	for _, r := range e.cfg.DefaultRules {
		if err := validateRule(r.RuleID, r.TriggerCondition, r.SpawnTemplate); err != nil {
			return fmt.Errorf("spawn: default rule: %w", err)
		}
	}

	e.state.Admin = op.Admin
	for _, r := range e.cfg.DefaultRules {
		r.Active = true
		r.CreatedBy = rt.Caller()
		e.state.Rules[r.RuleID] = r
	}
	return nil
}

func (e *Engine) createRule(rt host.Runtime, op domain.CreateSpawnRule) error {
	if err := validateRule(op.RuleID, op.TriggerCondition, op.SpawnTemplate); err != nil {
		return fmt.Errorf("spawn: create rule: %w", err)
	}
	e.state.Rules[op.RuleID] = domain.SpawnRule{
		RuleID:           op.RuleID,
		TriggerCondition: op.TriggerCondition,
		SpawnTemplate:    op.SpawnTemplate,
		Active:           true,
		CreatedBy:        rt.Caller(),
	}
	return nil
}

func validateRule(id string, trigger domain.Trigger, tpl domain.SpawnTemplate) error {
	if id == "" {
		return fmt.Errorf("empty rule id: %w", domain.ErrInvalidParameters)
	}
	if trigger.Condition == nil {
		return fmt.Errorf("rule %s: missing trigger condition: %w", id, domain.ErrInvalidParameters)
	}
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", id, err)
	}
	return nil
}

func (e *Engine) updateRule(rt host.Runtime, op domain.UpdateSpawnRule) error {
	rule, ok := e.state.Rules[op.RuleID]
	if !ok {
		return fmt.Errorf("spawn: update rule %s: %w", op.RuleID, domain.ErrNotFound)
	}
	caller := rt.Caller()
	if caller != rule.CreatedBy && (e.state.Admin == "" || caller != e.state.Admin) {
		return fmt.Errorf("spawn: update rule %s by %s: %w", op.RuleID, caller, domain.ErrUnauthorized)
	}
	rule.Active = op.Active
	e.state.Rules[op.RuleID] = rule
	return nil
}

func (e *Engine) onResolution(rt host.Runtime, n domain.ResolutionNotification) {
	now := rt.Now()
	for _, rule := range e.Rules() {
		if !rule.Active {
			continue
		}
		cond := rule.TriggerCondition.Condition
		if !Matches(cond, n.Question, n.WinningOutcome) {
			continue
		}
		if isImmediate(cond) {
			rt.Send(e.cfg.Registry, NewCreationRequest(n.MarketID, n.WinningOutcome, rule.SpawnTemplate, now, n.TotalStake))
			continue
		}
		e.state.Sequence++
		e.state.Pending = append(e.state.Pending, domain.PendingSpawn{
			SpawnID:        rule.RuleID + "_" + strconv.FormatInt(now.UnixMicro(), 10) + "_" + strconv.FormatUint(e.state.Sequence, 10),
			RuleID:         rule.RuleID,
			ParentMarketID: n.MarketID,
			ParentOutcome:  n.WinningOutcome,
			SpawnTemplate:  rule.SpawnTemplate,
			ScheduledTime:  now,
		})
	}
}

func (e *Engine) processPending(rt host.Runtime) {
	now := rt.Now()
	for i := range e.state.Pending {
		p := &e.state.Pending[i]
		if p.Processed || p.ScheduledTime.After(now) {
			continue
		}
		rt.Send(e.cfg.Registry, NewCreationRequest(p.ParentMarketID, p.ParentOutcome, p.SpawnTemplate, now, e.cfg.DeferredStakeBaseline))
		p.Processed = true
	}
}

// Rules returns all rules sorted by rule id.
func (e *Engine) Rules() []domain.SpawnRule {
	out := make([]domain.SpawnRule, 0, len(e.state.Rules))
	for _, r := range e.state.Rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// Rule returns the rule with the given id.
func (e *Engine) Rule(id string) (domain.SpawnRule, error) {
	r, ok := e.state.Rules[id]
	if !ok {
		return domain.SpawnRule{}, fmt.Errorf("spawn: rule %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

// Pending returns the pending-spawn queue in enqueue order, processed entries
// included.
func (e *Engine) Pending() []domain.PendingSpawn {
	return append([]domain.PendingSpawn(nil), e.state.Pending...)
}
