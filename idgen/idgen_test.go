package idgen

import (
	"regexp"
	"testing"
)

func TestNew_Length(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if len(id) != Length {
		t.Errorf("New() length = %d, want %d (id=%q)", len(id), Length, id)
	}
}

func TestNew_Charset(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{32}$`)
	for i := 0; i < 100; i++ {
		id, err := New()
		if err != nil {
			t.Fatalf("New() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("New() = %q, does not match expected charset pattern", id)
		}
	}
}

func TestNew_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := New()
		if err != nil {
			t.Fatalf("New() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate token after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestSentinel(t *testing.T) {
	if len(Sentinel) != Length {
		t.Errorf("Sentinel length = %d, want %d", len(Sentinel), Length)
	}
	if !Valid(Sentinel) {
		t.Error("Sentinel should be a well-formed token")
	}
}

func TestValid(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  bool
	}{
		{Sentinel, true},
		{"0123456789abcdef0123456789abcdef", true},
		{"", false},
		{"short", false},
		{"0123456789ABCDEF0123456789ABCDEF", false},
		{"0123456789abcdef0123456789abcde-", false},
	} {
		if got := Valid(tc.input); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}
