package oauthcrypto

import (
	"errors"
	"strings"
	"testing"
)

func TestGeneratedValueShapes(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() (string, error)
		prefix string
		length int
	}{
		{name: "bearer token", gen: GenerateBearerToken, prefix: BearerTokenPrefix, length: len(BearerTokenPrefix) + 43},
		{name: "authorization code", gen: GenerateAuthorizationCode, prefix: AuthorizationCodePrefix, length: len(AuthorizationCodePrefix) + 32},
		{name: "pkce verifier", gen: GeneratePKCEVerifier, length: 43},
		{name: "state", gen: GenerateState, length: 22},
		{name: "client id", gen: GenerateClientID, prefix: ClientIDPrefix, length: len(ClientIDPrefix) + 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := tt.gen()
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			b, err := tt.gen()
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if a == b {
				t.Fatalf("two generated values are equal: %q", a)
			}
			if !strings.HasPrefix(a, tt.prefix) {
				t.Errorf("value %q missing prefix %q", a, tt.prefix)
			}
			if len(a) != tt.length {
				t.Errorf("len(%q) = %d, want %d", a, len(a), tt.length)
			}
			if strings.ContainsAny(a, "+/=") {
				t.Errorf("value %q is not unpadded base64url", a)
			}
		})
	}
}

func TestGeneratePKCEChallenge(t *testing.T) {
	// RFC 7636 Appendix B.
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const want = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	got, err := GeneratePKCEChallenge(verifier, MethodS256)
	if err != nil {
		t.Fatalf("S256: %v", err)
	}
	if got != want {
		t.Errorf("S256 challenge = %q, want %q", got, want)
	}

	got, err = GeneratePKCEChallenge(verifier, MethodPlain)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	if got != verifier {
		t.Errorf("plain challenge = %q, want verifier", got)
	}

	if _, err := GeneratePKCEChallenge(verifier, "S512"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("unsupported method error = %v, want ErrUnsupportedMethod", err)
	}
}

func TestVerifyPKCEChallengeRoundTrip(t *testing.T) {
	for i := 0; i < 32; i++ {
		verifier, err := GeneratePKCEVerifier()
		if err != nil {
			t.Fatalf("verifier: %v", err)
		}
		challenge, err := GeneratePKCEChallenge(verifier, MethodS256)
		if err != nil {
			t.Fatalf("challenge: %v", err)
		}
		if !VerifyPKCEChallenge(verifier, challenge, MethodS256) {
			t.Fatalf("round trip failed for %q", verifier)
		}

		// Flip every position in turn; each mutation must fail.
		for pos := range verifier {
			mutated := []byte(verifier)
			if mutated[pos] == 'A' {
				mutated[pos] = 'B'
			} else {
				mutated[pos] = 'A'
			}
			if VerifyPKCEChallenge(string(mutated), challenge, MethodS256) {
				t.Fatalf("mutated verifier %q at %d verified", mutated, pos)
			}
		}
	}
}

func TestVerifyPKCEChallengeUnsupportedMethod(t *testing.T) {
	if VerifyPKCEChallenge("v", "v", "unknown") {
		t.Fatal("unsupported method verified")
	}
	if !VerifyPKCEChallenge("v", "v", MethodPlain) {
		t.Fatal("plain method did not verify identical values")
	}
}
