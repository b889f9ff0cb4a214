package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr string
	}{
		{"main", ""},
		{"support-2", ""},
		{"night_shift", ""},
		{"7", ""},
		{strings.Repeat("a", 64), ""},
		{"", "empty"},
		{strings.Repeat("a", 65), "longer than"},
		{"Main", "invalid"},
		{"-x", "invalid"},
		{"_x", "invalid"},
		{"two words", "invalid"},
		{"a.b", "invalid"},
		{"a/b", "invalid"},
		{"ops@home", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateName(tt.input)
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("ValidateName(%q) error = %v", tt.input, err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("ValidateName(%q) error = %v, want %q", tt.input, err, tt.wantErr)
			}
		})
	}
}
