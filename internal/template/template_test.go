package template

import (
	"reflect"
	"strings"
	"testing"

	apperrors "flightplan/internal/errors"
)

func TestExtractNames(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"echo {{ branch }} && cd {{path}}", []string{"branch", "path"}},
		{"{{ a }} {{ a }} {{ b.c }}", []string{"a", "b"}},
		{"no placeholders", nil},
		{"{{ broken", nil},
		{"{{ 1bad }}", nil},
	}
	for _, tt := range tests {
		got := ExtractNames(tt.text)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractNames(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestRenderPlain(t *testing.T) {
	got, err := Render("git checkout {{ branch }} in {{path}}", map[string]interface{}{
		"branch": "main",
		"path":   "/srv/app",
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "git checkout main in /srv/app" {
		t.Errorf("unexpected render: %q", got)
	}
}

func TestRenderUndefinedFails(t *testing.T) {
	_, err := Render("echo {{ defined }} {{ missing }}", map[string]interface{}{"defined": "x"}, false)
	if !apperrors.Is(err, apperrors.ErrCodeTemplate) {
		t.Fatalf("expected TEMPLATE_ERROR, got %v", err)
	}
	if !strings.Contains(err.Error(), "'missing' is undefined") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestRenderLiteralMode(t *testing.T) {
	bindings := map[string]interface{}{
		"env":     "prod",
		"count":   3,
		"enabled": true,
		"nothing": nil,
		"odoo":    map[string]interface{}{"version": "17.0", "debug": false},
	}
	tests := []struct {
		text string
		want string
	}{
		{`{{ env }} == "prod"`, `"prod" == "prod"`},
		{`{{ count }}`, `"3"`},
		{`{{ enabled }}`, `true`},
		{`{{ nothing }}`, `nil`},
		{`{{ odoo }}`, `{"debug": false, "version": "17.0"}`},
		{`{{ odoo.version }}`, `"17.0"`},
	}
	for _, tt := range tests {
		got, err := Render(tt.text, bindings, true)
		if err != nil {
			t.Fatalf("Render(%q): %v", tt.text, err)
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestRenderLiteralEscapesQuotes(t *testing.T) {
	got, err := Render("{{ msg }}", map[string]interface{}{"msg": `say "hi"`}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != `"say \"hi\""` {
		t.Errorf("unexpected literal: %s", got)
	}
}

func TestRenderMissingNestedKey(t *testing.T) {
	_, err := Render("{{ odoo.port }}", map[string]interface{}{"odoo": map[string]string{"version": "17"}}, false)
	if !apperrors.Is(err, apperrors.ErrCodeTemplate) {
		t.Fatalf("expected TEMPLATE_ERROR, got %v", err)
	}
}

// Every referenced name bound means no placeholder survives rendering.
func TestRenderLeavesNoPlaceholders(t *testing.T) {
	texts := []string{
		"{{a}}{{ b }}{{  c  }}",
		"prefix {{ a }} middle {{ a }} suffix",
		"{{ b }}/{{ c }}/{{ a }}",
	}
	for _, text := range texts {
		bindings := map[string]interface{}{}
		for _, n := range ExtractNames(text) {
			bindings[n] = "v-" + n
		}
		got, err := Render(text, bindings, false)
		if err != nil {
			t.Fatalf("render %q: %v", text, err)
		}
		if HasPlaceholders(got) || strings.Contains(got, "{{") {
			t.Errorf("placeholders left in %q", got)
		}
	}
}
