package server

import (
	"strings"
	"testing"
)

func TestS256PKCE(t *testing.T) {
	// RFC 7636 appendix B
	const (
		verifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	)

	m := S256PKCE{}
	if !m.Compare(challenge, verifier) {
		t.Error("Compare() = false for the RFC 7636 test vector")
	}
	if m.Compare(challenge, verifier+"x") {
		t.Error("Compare() = true for a different verifier")
	}
	if m.Compare(verifier, verifier) {
		t.Error("S256 must not accept the verifier as its own challenge")
	}
}

func TestPlainPKCE(t *testing.T) {
	m := PlainPKCE{}
	v := strings.Repeat("a", 43)
	if !m.Compare(v, v) {
		t.Error("Compare() = false for equal values")
	}
	if m.Compare(v, v+"b") {
		t.Error("Compare() = true for different values")
	}
}

func TestValidCodeVerifier(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		want     bool
	}{
		{name: "minimum length", verifier: strings.Repeat("a", MinCodeVerifierLength), want: true},
		{name: "maximum length", verifier: strings.Repeat("a", MaxCodeVerifierLength), want: true},
		{name: "unreserved characters", verifier: strings.Repeat("aZ9-._~", 7), want: true},
		{name: "too short", verifier: strings.Repeat("a", MinCodeVerifierLength-1), want: false},
		{name: "too long", verifier: strings.Repeat("a", MaxCodeVerifierLength+1), want: false},
		{name: "reserved character", verifier: strings.Repeat("a", 42) + "+", want: false},
		{name: "empty", verifier: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validCodeVerifier(tt.verifier); got != tt.want {
				t.Errorf("validCodeVerifier() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPKCEMethods_Lookup(t *testing.T) {
	methods := DefaultPKCEMethods()
	if _, ok := methods.Lookup(PKCEMethodS256); !ok {
		t.Error("S256 missing")
	}
	if _, ok := methods.Lookup("S512"); ok {
		t.Error("unexpected S512")
	}
}
