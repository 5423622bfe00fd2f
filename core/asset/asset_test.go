package asset

import (
	"errors"
	"testing"
)

const (
	mib = int64(1) << 20
	gib = int64(1) << 30
)

func TestSelectorPaths(t *testing.T) {
	sel := Selector{Threshold: 500 * mib, HardCap: 5 * gib}

	tests := []struct {
		name string
		size int64
		mode Mode
	}{
		{"small file", 1 * mib, ModeProxy},
		{"exactly at threshold", 500 * mib, ModeProxy},
		{"one byte over threshold", 500*mib + 1, ModeDirect},
		{"large file", 4 * gib, ModeDirect},
		{"exactly at hard cap", 5 * gib, ModeDirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := sel.Select(tt.size)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mode != tt.mode {
				t.Fatalf("size %d selected %q, expected %q", tt.size, mode, tt.mode)
			}
		})
	}
}

func TestSelectorRejectsOversized(t *testing.T) {
	sel := Selector{Threshold: 500 * mib, HardCap: 5 * gib}

	_, err := sel.Select(5*gib + 1)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestSelectorRejectsNonPositive(t *testing.T) {
	sel := Selector{Threshold: 500 * mib, HardCap: 5 * gib}

	for _, size := range []int64{0, -1} {
		if _, err := sel.Select(size); !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("size %d: expected ErrInvalidSize, got %v", size, err)
		}
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	if Key("c1") != Key("c1") {
		t.Fatal("key must be stable per course")
	}
	if Key("c1") == Key("c2") {
		t.Fatal("distinct courses must map to distinct keys")
	}
}
