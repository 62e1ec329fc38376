package security

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveKeysIsDeterministicAndPurposeBound(t *testing.T) {
	first, err := DeriveKeys("master-secret")
	if err != nil {
		t.Fatalf("derive keys: %v", err)
	}
	second, err := DeriveKeys("master-secret")
	if err != nil {
		t.Fatalf("derive keys again: %v", err)
	}
	if string(first.CookieSigning) != string(second.CookieSigning) {
		t.Fatal("derivation must be deterministic")
	}
	if string(first.CookieSigning) == string(first.SessionOpaque) {
		t.Fatal("purpose bound keys must differ")
	}

	other, err := DeriveKeys("other-secret")
	if err != nil {
		t.Fatalf("derive other keys: %v", err)
	}
	if string(first.CookieSigning) == string(other.CookieSigning) {
		t.Fatal("different master secrets must yield different keys")
	}

	if _, err := DeriveKeys(""); err == nil {
		t.Fatal("empty master secret must be rejected")
	}
}

func TestOpaqueSessionID(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	a := OpaqueSessionID(key, "sid-1", "alice@example.com")
	if a != OpaqueSessionID(key, "sid-1", "alice@example.com") {
		t.Fatal("opaque id must be deterministic")
	}
	if a == OpaqueSessionID(key, "sid-2", "alice@example.com") {
		t.Fatal("opaque id must depend on the sid")
	}
	if a == OpaqueSessionID(key, "sid-1", "bob@example.com") {
		t.Fatal("opaque id must depend on the email")
	}
	if a == OpaqueSessionID([]byte("another key another key another!"), "sid-1", "alice@example.com") {
		t.Fatal("opaque id must depend on the key")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 output, got %d chars", len(a))
	}
}

func TestSessionCookieCodecRoundTrip(t *testing.T) {
	codec := NewSessionCookieCodec("lektoria-auth", []byte("cookie-signing-key"))

	raw, err := codec.Encode("sid-42", time.Hour)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sid, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sid != "sid-42" {
		t.Fatalf("expected sid-42, got %q", sid)
	}

	other := NewSessionCookieCodec("lektoria-auth", []byte("different key"))
	if _, err := other.Decode(raw); err == nil {
		t.Fatal("cookie signed with another key must not decode")
	}
	if _, err := codec.Decode("garbage"); err == nil {
		t.Fatal("garbage must not decode")
	}

	expired, err := codec.Encode("sid-42", -time.Minute)
	if err != nil {
		t.Fatalf("encode expired: %v", err)
	}
	if _, err := codec.Decode(expired); err == nil {
		t.Fatal("expired cookie must not decode")
	}
}

func TestNewPhraseShape(t *testing.T) {
	phrase, err := NewPhrase()
	if err != nil {
		t.Fatalf("new phrase: %v", err)
	}
	parts := strings.Split(phrase, " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		t.Fatalf("expected two word phrase, got %q", phrase)
	}
}

func TestNewTokenValue(t *testing.T) {
	a, err := NewTokenValue()
	if err != nil {
		t.Fatalf("new token value: %v", err)
	}
	b, err := NewTokenValue()
	if err != nil {
		t.Fatalf("new token value: %v", err)
	}
	if a == b {
		t.Fatal("token values must not repeat")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("token value must be url safe: %q", a)
	}
}
