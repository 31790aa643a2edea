package credentials

import (
	"errors"
	"strings"
	"testing"
)

func TestXORRoundTrip(t *testing.T) {
	x := NewXOR("mcp_oauth_key_2024")
	for _, in := range []string{"apik_123", "a much longer secret than the key itself", ""} {
		sealed, err := x.Seal(in)
		if err != nil {
			t.Fatalf("Seal(%q): %v", in, err)
		}
		if in != "" && sealed == in {
			t.Errorf("Seal(%q) returned plaintext", in)
		}
		if got := x.Open(sealed); got != in {
			t.Errorf("Open(Seal(%q)) = %q", in, got)
		}
	}
}

func TestXOROpenFallsBackToInput(t *testing.T) {
	x := NewXOR("k")
	const plain = "apik_not-base64!"
	if got := x.Open(plain); got != plain {
		t.Fatalf("Open(%q) = %q, want input unchanged", plain, got)
	}
}

func TestAEADRoundTrip(t *testing.T) {
	a, err := NewAEAD("deployment-secret")
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}
	sealed, err := a.Seal("apik_secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, aeadPrefix) {
		t.Fatalf("sealed value %q missing prefix", sealed)
	}
	if strings.Contains(sealed, "apik_secret") {
		t.Fatalf("sealed value leaks plaintext: %q", sealed)
	}
	again, _ := a.Seal("apik_secret")
	if again == sealed {
		t.Fatal("two seals of the same plaintext are identical; nonce not random")
	}
	if got := a.Open(sealed); got != "apik_secret" {
		t.Fatalf("Open = %q", got)
	}
}

func TestAEADOpenNeverFails(t *testing.T) {
	a, _ := NewAEAD("one")
	b, _ := NewAEAD("two")

	sealed, _ := a.Seal("value")
	if got := b.Open(sealed); got != sealed {
		t.Errorf("wrong key Open = %q, want sealed input back", got)
	}

	raw := []byte(sealed)
	mid := len(raw) / 2
	if raw[mid] == 'A' {
		raw[mid] = 'B'
	} else {
		raw[mid] = 'A'
	}
	tampered := string(raw)
	if got := a.Open(tampered); got != tampered {
		t.Errorf("tampered Open = %q, want input back", got)
	}

	for _, in := range []string{"plaintext", "v1.!!!", "v1."} {
		if got := a.Open(in); got != in {
			t.Errorf("Open(%q) = %q, want input back", in, got)
		}
	}
}

func TestAEADFallback(t *testing.T) {
	legacy := NewXOR("legacy")
	old, _ := legacy.Seal("apik_old")

	a, _ := NewAEAD("secret", WithFallback(legacy))
	if got := a.Open(old); got != "apik_old" {
		t.Fatalf("fallback Open = %q", got)
	}
}

func TestNewAEADRequiresSecret(t *testing.T) {
	if _, err := NewAEAD(""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("err = %v, want ErrEmptySecret", err)
	}
	if _, err := NewRandomAEAD(); err != nil {
		t.Fatalf("NewRandomAEAD: %v", err)
	}
}
