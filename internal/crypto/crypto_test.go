package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

func TestSignRequestRecoversSigner(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	s := NewSigner(pk)
	body := []byte(`{"outcome":"Yes","amount":"10"}`)

	sig, err := s.SignRequest("POST", "/api/markets/m1/bets", body, 1700000000)
	if err != nil {
		t.Fatal(err)
	}
	got, err := RecoverRequestSigner("post", "/api/markets/m1/bets", body, 1700000000, sig)
	if err != nil {
		t.Fatalf("RecoverRequestSigner: %v", err)
	}
	if got != s.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), s.Address().Hex())
	}

	tampered := []struct {
		name   string
		method string
		path   string
		body   []byte
		ts     int64
	}{
		{"body", "POST", "/api/markets/m1/bets", []byte(`{"outcome":"No","amount":"10"}`), 1700000000},
		{"path", "POST", "/api/markets/m2/bets", body, 1700000000},
		{"timestamp", "POST", "/api/markets/m1/bets", body, 1700000001},
	}
	for _, tc := range tampered {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := RecoverRequestSigner(tc.method, tc.path, tc.body, tc.ts, sig)
			if err == nil && addr == s.Address() {
				t.Errorf("tampered %s still recovers the signer", tc.name)
			}
		})
	}
}

func TestRecoverRequestSignerRejectsMalformed(t *testing.T) {
	for _, sig := range []string{"", "0x1234", "zz"} {
		_, err := RecoverRequestSigner("GET", "/", nil, 0, sig)
		if !errors.Is(err, domain.ErrBadSignature) {
			t.Errorf("sig %q: err = %v, want ErrBadSignature", sig, err)
		}
	}
}

func TestIdentityIsLowerHex(t *testing.T) {
	s, err := NewSignerFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatal(err)
	}
	want := domain.InstanceID("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23")
	if got := s.Identity(); got != want {
		t.Errorf("Identity() = %s, want %s", got, want)
	}
}

func TestSealAndOpenKey(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	blob, err := SealKey(pk, "hunter2", 1000)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "operator.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadKey(KeySource{File: path, Password: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if ethcrypto.PubkeyToAddress(got.PublicKey) != ethcrypto.PubkeyToAddress(pk.PublicKey) {
		t.Error("opened key differs from sealed key")
	}

	if _, err := OpenKey(blob, "wrong"); err == nil {
		t.Error("OpenKey with wrong password succeeded")
	}
	if _, err := LoadKey(KeySource{}); err == nil {
		t.Error("LoadKey with no source succeeded")
	}
}

func TestEnvelopeAuth(t *testing.T) {
	auth := NewEnvelopeAuth("shared-secret")
	env := domain.Envelope{
		ID:      "e1",
		Type:    domain.EnvelopeMessage,
		From:    "market/m1",
		To:      "spawn-engine",
		Caller:  "market/m1",
		Kind:    domain.MsgResolutionNotification,
		Payload: []byte(`{"market_id":"m1"}`),
		SentAt:  time.Unix(1700000000, 0),
		Seq:     7,
	}
	env.Signature = auth.Sign(env)
	if err := auth.Verify(env); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	replayed := env
	replayed.Seq = 8
	if err := auth.Verify(replayed); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("Verify with altered seq = %v, want ErrBadSignature", err)
	}

	env.Payload = []byte(`{"market_id":"m2"}`)
	if err := auth.Verify(env); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("Verify tampered = %v, want ErrBadSignature", err)
	}
	if err := NewEnvelopeAuth("other").Verify(env); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("Verify with other secret = %v, want ErrBadSignature", err)
	}
}
