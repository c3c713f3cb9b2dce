package validation

import (
	"strings"
	"testing"
)

func TestIsValidStyle(t *testing.T) {
	tests := []struct {
		style string
		want  bool
	}{
		{"modern", true},
		{"Scandinavian", true},
		{"  minimalist  ", true},
		{"", false},
		{"brutalist-cyberpunk", false},
	}

	for _, tt := range tests {
		if got := IsValidStyle(tt.style); got != tt.want {
			t.Errorf("IsValidStyle(%q) = %v, want %v", tt.style, got, tt.want)
		}
	}
}

func TestIsValidRoomType(t *testing.T) {
	tests := []struct {
		roomType string
		want     bool
	}{
		{"bedroom", true},
		{"Living Room", true},
		{"garage", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidRoomType(tt.roomType); got != tt.want {
			t.Errorf("IsValidRoomType(%q) = %v, want %v", tt.roomType, got, tt.want)
		}
	}
}

func TestIsValidNumVariations(t *testing.T) {
	tests := []struct {
		n    int
		want bool
	}{
		{0, false},
		{1, true},
		{MaxVariations, true},
		{MaxVariations + 1, false},
		{-1, false},
	}

	for _, tt := range tests {
		if got := IsValidNumVariations(tt.n); got != tt.want {
			t.Errorf("IsValidNumVariations(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestSanitizeInstructions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "add more plants", want: "add more plants"},
		{name: "control chars", input: "add\x00 more\x1b plants", want: "add more plants"},
		{name: "newlines and tabs", input: "add\n\nmore\t plants ", want: "add more plants"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeInstructions(tt.input); got != tt.want {
				t.Errorf("SanitizeInstructions(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeInstructions_Truncates(t *testing.T) {
	long := strings.Repeat("a", 600)
	got := SanitizeInstructions(long)
	if len([]rune(got)) != 500 {
		t.Fatalf("len = %d, want 500", len([]rune(got)))
	}
}
