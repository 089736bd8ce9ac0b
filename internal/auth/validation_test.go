package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"a@x.com", true},
		{"  owner@ricemill.in ", true},
		{"first.last+tag@sub.example.org", true},
		{"", false},
		{"no-at-sign", false},
		{"a@b", false},
		{"a@@x.com", false},
		{strings.Repeat("a", 250) + "@x.com", false},
	}

	for _, tt := range tests {
		err := ValidateEmail(tt.email)
		if tt.valid && err != nil {
			t.Errorf("ValidateEmail(%q) unexpected error: %v", tt.email, err)
		}
		if !tt.valid {
			if err == nil {
				t.Errorf("ValidateEmail(%q) expected error", tt.email)
			} else if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ValidateEmail(%q) error %v does not match ErrInvalidInput", tt.email, err)
			}
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := map[string]string{
		"A@X.COM":              "a@x.com",
		"  Alice@Mill.Example": "alice@mill.example",
		"already@lower.com":    "already@lower.com",
	}
	for in, want := range tests {
		if got := NormalizeEmail(in); got != want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("pw1234567", 8); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePassword("short", 8); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	// Multi-byte characters count once each.
	if err := ValidatePassword("चावलचावल", 8); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("Alice"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateName("   "); err == nil {
		t.Error("expected error for blank name")
	}
	if err := ValidateName(strings.Repeat("n", 101)); err == nil {
		t.Error("expected error for long name")
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"admin", "user"} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) unexpected error: %v", s, err)
		}
	}
	for _, s := range []string{"", "Admin", "superuser", "operator"} {
		if _, err := ParseRole(s); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseRole(%q) expected ErrInvalidInput, got %v", s, err)
		}
	}
}
