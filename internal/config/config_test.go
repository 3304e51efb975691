package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Identity.OperatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestDefaultsRequireOperator(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error without an operator key")
	}
	if !strings.Contains(err.Error(), "operator_key") {
		t.Fatalf("error %q does not mention operator_key", err)
	}

	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "batch"
	cfg.Identity.EngineID = cfg.Identity.RegistryID
	cfg.Spawn.DeferredStakeBaseline = "lots"
	cfg.Runtime.SweepInterval = duration{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown mode "batch"`,
		"registry_id and engine_id must differ",
		"deferred_stake_baseline",
		"sweep_interval",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%s", want, err)
		}
	}
}

func TestValidateRejectsMarketShapedIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.RegistryID = "market/registry"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "collides") {
		t.Fatalf("got %v, want collision error", err)
	}
}

func TestValidateSkipsPostgresForMemoryStorage(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = "memory"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory storage should ignore postgres settings: %v", err)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cascade.toml")
	body := `
mode = "server"
storage = "memory"

[identity]
operator_key = "abc"
registry_id = "reg"

[runtime]
sweep_interval = "30s"

[[spawn.default_rules]]
rule_id = "rematch"
trigger = "market_resolution"
market_pattern = "final"
outcome_pattern = "draw"

[spawn.default_rules.template]
question_template = "Who wins the replay?"
outcomes = ["Home", "Away"]
expiry_offset_seconds = 86400
seed_liquidity_ratio = 0.25
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CASCADE_MODE", "full")
	t.Setenv("CASCADE_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("CASCADE_RUNTIME_LOCK_TTL", "not-a-duration")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "full" {
		t.Errorf("mode: got %q, want env override full", cfg.Mode)
	}
	if cfg.Storage != "memory" || cfg.Identity.RegistryID != "reg" {
		t.Errorf("file values lost: storage=%q registry=%q", cfg.Storage, cfg.Identity.RegistryID)
	}
	if cfg.Identity.EngineID != "spawn-engine" {
		t.Errorf("default engine id lost: %q", cfg.Identity.EngineID)
	}
	if cfg.Runtime.SweepInterval.Duration != 30*time.Second {
		t.Errorf("sweep interval: got %v", cfg.Runtime.SweepInterval)
	}
	if cfg.Runtime.LockTTL.Duration != 10*time.Second {
		t.Errorf("unparsable env should keep default lock ttl, got %v", cfg.Runtime.LockTTL)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("cors origins: got %q", got)
	}

	rules, err := cfg.Spawn.Rules()
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(rules) != 1 || rules[0].RuleID != "rematch" || !rules[0].Active {
		t.Fatalf("rules: got %+v", rules)
	}
	trig, ok := rules[0].TriggerCondition.Condition.(domain.MarketResolutionTrigger)
	if !ok || trig.MarketPattern != "final" || trig.OutcomePattern != "draw" {
		t.Errorf("trigger: got %#v", rules[0].TriggerCondition.Condition)
	}
	if rules[0].SpawnTemplate.SeedLiquidityRatio != 0.25 {
		t.Errorf("seed ratio: got %v", rules[0].SpawnTemplate.SeedLiquidityRatio)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestRuleConfigToRule(t *testing.T) {
	tmpl := domain.SpawnTemplate{QuestionTemplate: "Next?", Outcomes: []string{"Yes", "No"}}
	tests := []struct {
		name    string
		rule    RuleConfig
		wantErr bool
		kind    string
	}{
		{name: "time delay", rule: RuleConfig{RuleID: "r", Trigger: "time_delay", DelaySeconds: 60, Template: tmpl}, kind: domain.TriggerTimeDelay},
		{name: "custom logic", rule: RuleConfig{RuleID: "r", Trigger: "custom_logic", LogicHash: "0x" + strings.Repeat("ab", 32), Template: tmpl}, kind: domain.TriggerCustomLogic},
		{name: "short logic hash", rule: RuleConfig{RuleID: "r", Trigger: "custom_logic", LogicHash: "0xabcd", Template: tmpl}, wantErr: true},
		{name: "unknown trigger", rule: RuleConfig{RuleID: "r", Trigger: "oracle", Template: tmpl}, wantErr: true},
		{name: "missing id", rule: RuleConfig{Trigger: "time_delay", Template: tmpl}, wantErr: true},
		{name: "bad template", rule: RuleConfig{RuleID: "r", Trigger: "time_delay", Template: domain.SpawnTemplate{QuestionTemplate: "Q", Outcomes: []string{"Only"}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.ToRule()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && domain.TriggerKind(got.TriggerCondition.Condition) != tt.kind {
				t.Errorf("kind: got %q, want %q", domain.TriggerKind(got.TriggerCondition.Condition), tt.kind)
			}
		})
	}
}

func TestBaseline(t *testing.T) {
	got, err := Defaults().Spawn.Baseline()
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(domain.Tokens(1000)) != 0 {
		t.Errorf("got %s, want 1000", got)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.Server.APIKey = "key"
	cfg.Notify.Events = []string{"market_spawned"}

	out := RedactedConfig(&cfg)
	for name, v := range map[string]string{
		"operator_key": out.Identity.OperatorKey,
		"pg password":  out.Postgres.Password,
		"api key":      out.Server.APIKey,
	} {
		if v != "***" {
			t.Errorf("%s not redacted: %q", name, v)
		}
	}
	if out.Identity.KeyPassword != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Identity.KeyPassword)
	}
	if cfg.Postgres.Password != "pg-secret" {
		t.Error("original config was modified")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "market_spawned" {
		t.Error("redacted copy aliases the original events slice")
	}
}
