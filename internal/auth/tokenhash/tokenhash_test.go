package tokenhash

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("ops-secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !IsEncoded(encoded) {
		t.Fatalf("expected argon2id prefix, got %q", encoded)
	}
	if strings.Contains(encoded, "ops-secret") {
		t.Fatalf("hash leaks the token")
	}
	if !Verify("ops-secret", encoded) {
		t.Fatalf("expected token to verify")
	}
	if Verify("ops-secreT", encoded) {
		t.Fatalf("expected wrong token to fail")
	}

	again, err := Hash("ops-secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if again == encoded {
		t.Fatalf("expected a fresh salt per hash")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"plain-token",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=0,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$",
	}
	for _, encoded := range cases {
		if Verify("anything", encoded) {
			t.Fatalf("expected %q to be rejected", encoded)
		}
	}
}
