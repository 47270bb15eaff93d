package attendance

import (
	"strings"
	"testing"
)

func TestRequireFloat64(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		key     string
		want    float64
		wantErr string
	}{
		{"valid", map[string]any{"limit": float64(42)}, "limit", 42, ""},
		{"zero", map[string]any{"limit": float64(0)}, "limit", 0, ""},
		{"missing key", map[string]any{}, "limit", 0, "limit is required"},
		{"nil value", map[string]any{"limit": nil}, "limit", 0, "limit is required"},
		{"wrong type string", map[string]any{"limit": "abc"}, "limit", 0, "must be a number"},
		{"wrong type bool", map[string]any{"limit": true}, "limit", 0, "must be a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requireFloat64(tt.args, tt.key)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireString(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		key     string
		want    string
		wantErr string
	}{
		{"valid", map[string]any{"student_id": "S1"}, "student_id", "S1", ""},
		{"missing", map[string]any{}, "student_id", "", "student_id is required"},
		{"empty string", map[string]any{"student_id": ""}, "student_id", "", "student_id is required"},
		{"wrong type", map[string]any{"student_id": 42}, "student_id", "", "student_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requireString(tt.args, tt.key)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionalString(t *testing.T) {
	if got := optionalString(map[string]any{"type": "check_in"}, "type", "auto"); got != "check_in" {
		t.Errorf("got %q, want check_in", got)
	}
	if got := optionalString(map[string]any{"type": ""}, "type", "auto"); got != "auto" {
		t.Errorf("empty should fall back, got %q", got)
	}
	if got := optionalString(map[string]any{}, "type", "auto"); got != "auto" {
		t.Errorf("missing should fall back, got %q", got)
	}
}

func TestOptionalLimit(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    int
		wantErr bool
	}{
		{"present", map[string]any{"limit": float64(5)}, 5, false},
		{"missing", map[string]any{}, 50, false},
		{"nil", map[string]any{"limit": nil}, 50, false},
		{"zero", map[string]any{"limit": float64(0)}, 0, true},
		{"wrong type", map[string]any{"limit": "ten"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := optionalLimit(tt.args, "limit", 50)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
