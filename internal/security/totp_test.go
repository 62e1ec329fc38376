package security

import (
	"strings"
	"testing"
	"time"
)

// Base32 of the RFC 6238 reference secret "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestVerifyCodeAgainstReferenceVectors(t *testing.T) {
	m := NewTOTPManager("Lektoria")

	// Six digit truncations of the RFC 6238 SHA1 vectors.
	cases := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, tc := range cases {
		ok, err := m.VerifyCode(rfcSecret, tc.code, time.Unix(tc.unix, 0))
		if err != nil {
			t.Fatalf("verify at %d: %v", tc.unix, err)
		}
		if !ok {
			t.Fatalf("expected code %s to verify at %d", tc.code, tc.unix)
		}
	}
}

func TestVerifyCodeSkewWindow(t *testing.T) {
	m := NewTOTPManager("Lektoria")
	now := time.Unix(1111111109, 0)

	previous, err := m.CodeAt(rfcSecret, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("code at previous step: %v", err)
	}
	ok, err := m.VerifyCode(rfcSecret, previous, now)
	if err != nil {
		t.Fatalf("verify previous step: %v", err)
	}
	if !ok {
		t.Fatal("code from the adjacent step must verify")
	}

	stale, err := m.CodeAt(rfcSecret, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("code at stale step: %v", err)
	}
	ok, err = m.VerifyCode(rfcSecret, stale, now)
	if err != nil {
		t.Fatalf("verify stale step: %v", err)
	}
	if ok {
		t.Fatal("code from outside the skew window must not verify")
	}
}

func TestVerifyCodeRejectsMalformedInput(t *testing.T) {
	m := NewTOTPManager("Lektoria")
	now := time.Unix(1111111109, 0)

	for _, code := range []string{"", "12345", "1234567", "12c456", "287082x"} {
		ok, err := m.VerifyCode(rfcSecret, code, now)
		if err != nil {
			t.Fatalf("malformed code %q must not error: %v", code, err)
		}
		if ok {
			t.Fatalf("malformed code %q must not verify", code)
		}
	}

	if _, err := m.VerifyCode("not-base32!", "287082", now); err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}

func TestGenerateSecretAndProvisionURI(t *testing.T) {
	m := NewTOTPManager("Lektoria")

	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if strings.Contains(secret, "=") {
		t.Fatalf("secret must not carry padding: %q", secret)
	}
	if _, err := m.CodeAt(secret, time.Now()); err != nil {
		t.Fatalf("generated secret must decode: %v", err)
	}

	uri := m.ProvisionURI(secret, "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected uri scheme: %q", uri)
	}
	for _, want := range []string{"issuer=Lektoria", "secret=" + secret, "digits=6", "period=30"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("uri missing %q: %s", want, uri)
		}
	}
}
