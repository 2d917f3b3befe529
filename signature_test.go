package authkit

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

func newTestKeyService(t *testing.T, opts ...KeyServiceOption) (*KeyService, *MemorySecretStore) {
	t.Helper()
	secrets := NewMemorySecretStore()
	kv := NewMemoryKV()
	t.Cleanup(kv.Close)
	svc, err := NewKeyService(secrets, kv, opts...)
	if err != nil {
		t.Fatalf("new key service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, secrets
}

func signedParams(t *testing.T, alg Algorithm, secret string, at time.Time, nonce string, extra map[string]any) map[string]any {
	t.Helper()
	params := map[string]any{
		ParamAlgorithm: string(alg),
		ParamTimestamp: strconv.FormatInt(at.UnixMilli(), 10),
		ParamNonce:     nonce,
	}
	for k, v := range extra {
		params[k] = v
	}
	sig, err := Sign(alg, params, secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	params[ParamSignature] = sig
	return params
}

func TestSignDeterministicAcrossParamOrder(t *testing.T) {
	a := map[string]any{"Zebra": "1", "alpha": "2", "Beta": "3", ParamTimestamp: "100", ParamNonce: "n"}
	b := map[string]any{ParamNonce: "n", "Beta": "3", ParamTimestamp: "100", "alpha": "2", "Zebra": "1"}

	for _, alg := range []Algorithm{AlgorithmMD5, AlgorithmSHA1, AlgorithmSHA256, AlgorithmHMACSHA256} {
		s1, err := Sign(alg, a, "secret")
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		s2, err := Sign(alg, b, "secret")
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		if s1 != s2 {
			t.Fatalf("%s: signature depends on map iteration order", alg)
		}
	}
}

func TestSignKnownVectors(t *testing.T) {
	params := map[string]any{"Foo": "bar baz", ParamTimestamp: "1700000000000", ParamNonce: "abc"}
	signing := "Algorithm=MD5&AlgorithmVersion=v1&ApiVersion=v1&Foo=bar%20baz&Nonce=abc&Timestamp=1700000000000"

	sum := md5.Sum([]byte(signing + "&key=s3cret"))
	want := hex.EncodeToString(sum[:])
	got, err := Sign(AlgorithmMD5, params, "s3cret")
	if err != nil {
		t.Fatalf("sign md5: %v", err)
	}
	if got != want {
		t.Fatalf("md5 mismatch:\n got %s\nwant %s", got, want)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	hmacSigning := "Algorithm=HMAC_SHA256&AlgorithmVersion=v1&ApiVersion=v1&Foo=bar%20baz&Nonce=abc&Timestamp=1700000000000"
	mac.Write([]byte(hmacSigning))
	wantMAC := hex.EncodeToString(mac.Sum(nil))
	gotMAC, err := Sign(AlgorithmHMACSHA256, params, "s3cret")
	if err != nil {
		t.Fatalf("sign hmac: %v", err)
	}
	if gotMAC != wantMAC {
		t.Fatalf("hmac mismatch:\n got %s\nwant %s", gotMAC, wantMAC)
	}
}

func TestSignSkipsSignatureAndNilParams(t *testing.T) {
	base := map[string]any{"Foo": "1", ParamTimestamp: "100", ParamNonce: "n"}
	withNoise := map[string]any{
		"Foo": "1", ParamTimestamp: "100", ParamNonce: "n",
		ParamSignature: "previous-signature",
		"Absent":       nil,
	}
	s1, _ := Sign(AlgorithmSHA256, base, "k")
	s2, _ := Sign(AlgorithmSHA256, withNoise, "k")
	if s1 != s2 {
		t.Fatalf("Signature and nil params must not contribute to the signing string")
	}
}

func TestSignUnknownAlgorithm(t *testing.T) {
	if _, err := Sign(Algorithm("ROT13"), map[string]any{}, "k"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestValidateKeyAcceptsEachAlgorithm(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, alg := range []Algorithm{AlgorithmMD5, AlgorithmSHA1, AlgorithmSHA256, AlgorithmHMACSHA256} {
		svc, _ := newTestKeyService(t, WithClock(func() time.Time { return now }))
		if err := svc.AddKey(ctx, "client-1", "topsecret"); err != nil {
			t.Fatalf("add key: %v", err)
		}
		params := signedParams(t, alg, "topsecret", now, fmt.Sprintf("nonce-%d", i), map[string]any{"Payload": "x"})
		ok, err := svc.ValidateKey(ctx, "client-1", params)
		if err != nil {
			t.Fatalf("%s: validate: %v", alg, err)
		}
		if !ok {
			t.Fatalf("%s: valid signature rejected", alg)
		}
	}
}

func TestValidateKeyRejectsTamperedParams(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(t, WithClock(func() time.Time { return now }))
	_ = svc.AddKey(ctx, "client-1", "topsecret")

	params := signedParams(t, AlgorithmHMACSHA256, "topsecret", now, "nonce-tamper", map[string]any{"Amount": "10"})
	params["Amount"] = "10000"

	ok, err := svc.ValidateKey(ctx, "client-1", params)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Fatalf("tampered request must not verify")
	}
}

func TestValidateKeyUnknownKeyIsNegativeNotError(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(t, WithClock(func() time.Time { return now }))

	params := signedParams(t, AlgorithmSHA256, "whatever", now, "nonce-unknown", nil)
	ok, err := svc.ValidateKey(ctx, "no-such-key", params)
	if err != nil {
		t.Fatalf("unknown key must not error, got %v", err)
	}
	if ok {
		t.Fatalf("unknown key must not verify")
	}
}

func TestValidateKeyNonceReplay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(t, WithClock(func() time.Time { return now }))
	_ = svc.AddKey(ctx, "client-1", "topsecret")

	params := signedParams(t, AlgorithmSHA256, "topsecret", now, "nonce-once", nil)
	ok, err := svc.ValidateKey(ctx, "client-1", params)
	if err != nil || !ok {
		t.Fatalf("first use must verify: ok=%v err=%v", ok, err)
	}

	// Byte-identical replay.
	_, err = svc.ValidateKey(ctx, "client-1", params)
	if !errors.Is(err, ErrNonceReplayed) {
		t.Fatalf("replay must fail with ErrNonceReplayed, got %v", err)
	}
}

func TestValidateKeyNonceBurnsForUnknownKeyToo(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(t, WithClock(func() time.Time { return now }))

	params := signedParams(t, AlgorithmSHA256, "whatever", now, "nonce-burn", nil)
	if _, err := svc.ValidateKey(ctx, "no-such-key", params); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if _, err := svc.ValidateKey(ctx, "no-such-key", params); !errors.Is(err, ErrNonceReplayed) {
		t.Fatalf("nonce must burn even when the key is unknown, got %v", err)
	}
}

func TestValidateKeyTimestampWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	cases := []struct {
		name string
		at   time.Time
		ok   bool
	}{
		{"just inside past", now.Add(-window + time.Millisecond), true},
		{"just inside future", now.Add(window - time.Millisecond), true},
		{"exactly at boundary", now.Add(-window), false},
		{"beyond window", now.Add(-window - time.Second), false},
		{"future beyond window", now.Add(window + time.Second), false},
	}
	for i, tc := range cases {
		svc, _ := newTestKeyService(t,
			WithClock(func() time.Time { return now }),
			WithDisparityWindow(window),
		)
		_ = svc.AddKey(ctx, "client-1", "topsecret")
		params := signedParams(t, AlgorithmSHA256, "topsecret", tc.at, fmt.Sprintf("nonce-window-%d", i), nil)
		ok, err := svc.ValidateKey(ctx, "client-1", params)
		if tc.ok {
			if err != nil || !ok {
				t.Fatalf("%s: expected accept, got ok=%v err=%v", tc.name, ok, err)
			}
			continue
		}
		if !errors.Is(err, ErrTimestampOutOfRange) {
			t.Fatalf("%s: expected ErrTimestampOutOfRange, got ok=%v err=%v", tc.name, ok, err)
		}
	}
}

func TestValidateKeyMissingParams(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(t, WithClock(func() time.Time { return now }))
	_ = svc.AddKey(ctx, "client-1", "topsecret")

	full := signedParams(t, AlgorithmSHA256, "topsecret", now, "nonce-missing", nil)

	for _, drop := range []string{ParamTimestamp, ParamNonce, ParamSignature} {
		params := make(map[string]any, len(full))
		for k, v := range full {
			params[k] = v
		}
		delete(params, drop)
		if _, err := svc.ValidateKey(ctx, "client-1", params); !errors.Is(err, ErrMissingParam) {
			t.Fatalf("dropping %s: expected ErrMissingParam, got %v", drop, err)
		}
	}

	if _, err := svc.ValidateKey(ctx, "client-1", map[string]any{ParamAlgorithm: "NOPE"}); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
	if _, err := svc.ValidateKey(ctx, "client-1", map[string]any{}); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("absent algorithm: expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestValidateKeyBadTimestampFormat(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestKeyService(t)
	_ = svc.AddKey(ctx, "client-1", "topsecret")

	params := map[string]any{
		ParamAlgorithm: string(AlgorithmSHA256),
		ParamTimestamp: "yesterday",
		ParamNonce:     "n1",
		ParamSignature: "deadbeef",
	}
	if _, err := svc.ValidateKey(ctx, "client-1", params); !errors.Is(err, ErrTimestampOutOfRange) {
		t.Fatalf("expected ErrTimestampOutOfRange for non-numeric timestamp, got %v", err)
	}
}

func TestKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, secrets := newTestKeyService(t, WithClock(func() time.Time { return now }))

	if err := svc.AddKey(ctx, "client-1", "old-secret"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.UpdateKey(ctx, "client-1", "new-secret"); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Validation must see the rotated secret, not the cached old one.
	params := signedParams(t, AlgorithmSHA256, "new-secret", now, "nonce-rotate", nil)
	ok, err := svc.ValidateKey(ctx, "client-1", params)
	if err != nil || !ok {
		t.Fatalf("rotated secret must verify: ok=%v err=%v", ok, err)
	}

	if err := svc.RemoveKey(ctx, "client-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, found, _ := secrets.Get(ctx, "client-1"); found {
		t.Fatalf("removed key still in the durable store")
	}
	params = signedParams(t, AlgorithmSHA256, "new-secret", now, "nonce-removed", nil)
	ok, err = svc.ValidateKey(ctx, "client-1", params)
	if err != nil || ok {
		t.Fatalf("removed key must not verify: ok=%v err=%v", ok, err)
	}
}

func TestLoadKeysWarmsCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	secrets := NewMemorySecretStore()
	_ = secrets.Put(ctx, "client-1", "topsecret")
	_ = secrets.Put(ctx, "client-2", "other")

	kv := NewMemoryKV()
	defer kv.Close()
	svc, err := NewKeyService(secrets, kv, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new key service: %v", err)
	}
	defer svc.Close()

	if err := svc.LoadKeys(ctx); err != nil {
		t.Fatalf("load keys: %v", err)
	}
	params := signedParams(t, AlgorithmSHA256, "topsecret", now, "nonce-warm", nil)
	ok, err := svc.ValidateKey(ctx, "client-1", params)
	if err != nil || !ok {
		t.Fatalf("preloaded key must verify: ok=%v err=%v", ok, err)
	}
}
