package auth

import (
	"strings"
	"testing"
	"time"
)

func TestNewCredentialFormat(t *testing.T) {
	a, err := NewCredential()
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	b, _ := NewCredential()
	if !strings.HasPrefix(a, "mcp-") || len(a) != len("mcp-")+48 {
		t.Fatalf("unexpected credential %q", a)
	}
	if a == b {
		t.Fatalf("credentials should differ")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":     true,
		"bearer abc":     true,
		"Basic abc":      false,
		"Bearer":         false,
		"Bearer a b":     false,
		"":               false,
		"  Bearer  xyz ": true,
	}
	for in, ok := range cases {
		if _, got := BearerToken(in); got != ok {
			t.Fatalf("BearerToken(%q) ok=%v want %v", in, got, ok)
		}
	}
}

func TestIssueAndParseToken(t *testing.T) {
	now := time.Now()
	tok, err := IssueToken("s3cret", "default", time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := ParseToken("s3cret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "default" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseToken("other", tok); err == nil {
		t.Fatalf("expected signature failure")
	}
	expired, _ := IssueToken("s3cret", "default", time.Minute, now.Add(-time.Hour))
	if _, err := ParseToken("s3cret", expired); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func TestCredentialEqual(t *testing.T) {
	if !CredentialEqual("mcp-1", "mcp-1") {
		t.Fatalf("equal credentials should match")
	}
	if CredentialEqual("mcp-1", "mcp-2") || CredentialEqual("", "") {
		t.Fatalf("unexpected match")
	}
}
