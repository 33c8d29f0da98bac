package oauth

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestSecret(t *testing.T) {
	s := NewSecret("super-secret-token")

	if s.Reveal() != "super-secret-token" {
		t.Errorf("Reveal() = %q", s.Reveal())
	}
	if s.IsZero() {
		t.Error("IsZero() = true for non-empty secret")
	}

	outputs := []string{
		fmt.Sprint(s),
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%+v", struct{ Token Secret }{s}),
		fmt.Sprintf("%#v", s),
	}
	data, err := json.Marshal(map[string]Secret{"token": s})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	outputs = append(outputs, string(data))

	for _, out := range outputs {
		if strings.Contains(out, "super-secret-token") {
			t.Errorf("secret leaked in %q", out)
		}
		if !strings.Contains(out, "[REDACTED]") {
			t.Errorf("expected [REDACTED] in %q", out)
		}
	}
}

func TestSecret_Empty(t *testing.T) {
	var s Secret
	if !s.IsZero() {
		t.Error("zero Secret should report IsZero")
	}
	if s.String() != "" {
		t.Errorf("String() = %q, want empty", s.String())
	}
}
