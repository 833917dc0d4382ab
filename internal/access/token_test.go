package access

import (
	"testing"
	"time"
)

func positiveDecision(now time.Time) Decision {
	return Decision{
		AccountID:   1,
		HasAccess:   true,
		Reason:      ReasonActive,
		EvaluatedAt: now,
		ExpiresAt:   now.Add(30 * time.Minute),
	}
}

func TestTokenIssueVerifyRoundTrip(t *testing.T) {
	ti := NewTokenIssuer("test-secret", "")
	now := time.Now()

	signed, err := ti.Issue("user_1", positiveDecision(now))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if signed == "" {
		t.Fatal("expected a token for a positive decision")
	}

	subject, reason, err := ti.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "user_1" {
		t.Errorf("subject = %q, want user_1", subject)
	}
	if reason != ReasonActive {
		t.Errorf("reason = %q, want %q", reason, ReasonActive)
	}
}

func TestTokenNegativeDecisionGetsNoToken(t *testing.T) {
	ti := NewTokenIssuer("test-secret", "")

	signed, err := ti.Issue("user_1", Decision{HasAccess: false, Reason: ReasonCancelled})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if signed != "" {
		t.Errorf("expected empty token for negative decision, got %q", signed)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", "")
	verifier := NewTokenIssuer("secret-b", "")

	signed, err := issuer.Issue("user_1", positiveDecision(time.Now()))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := verifier.Verify(signed); err == nil {
		t.Error("expected verification to fail with wrong secret")
	}
}

func TestTokenExpiredRejected(t *testing.T) {
	ti := NewTokenIssuer("test-secret", "")
	past := time.Now().Add(-2 * time.Hour)

	signed, err := ti.Issue("user_1", Decision{
		HasAccess:   true,
		Reason:      ReasonActive,
		EvaluatedAt: past,
		ExpiresAt:   past.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := ti.Verify(signed); err == nil {
		t.Error("expected verification to fail for expired token")
	}
}

func TestTokenWrongIssuerRejected(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "other-service")
	verifier := NewTokenIssuer("test-secret", "")

	signed, err := issuer.Issue("user_1", positiveDecision(time.Now()))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := verifier.Verify(signed); err == nil {
		t.Error("expected verification to fail for wrong issuer")
	}
}
