package templates

import (
	"strings"
	"testing"
)

func TestRenderSprigHelpers(t *testing.T) {
	r := NewRenderer(false, nil)
	out, err := r.Render("test", []byte(`{"name": "{{ upper "hello" }}"}`))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(out) != `{"name": "HELLO"}` {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRenderEnvDeniedByDefault(t *testing.T) {
	t.Setenv("CONFCTRL_SECRET", "hunter2")

	r := NewRenderer(false, nil)
	out, err := r.Render("test", []byte(`{{ env "CONFCTRL_SECRET" }}`))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(out) != "" {
		t.Fatalf("env must resolve empty when disabled, got %q", out)
	}
}

func TestRenderEnvAllowList(t *testing.T) {
	t.Setenv("CONFCTRL_ALLOWED", "visible")
	t.Setenv("CONFCTRL_BLOCKED", "hidden")

	r := NewRenderer(true, []string{"CONFCTRL_ALLOWED"})

	out, err := r.Render("allowed", []byte(`{{ env "CONFCTRL_ALLOWED" }}`))
	if err != nil {
		t.Fatalf("render allowed: %v", err)
	}
	if string(out) != "visible" {
		t.Fatalf("allow-listed env must resolve, got %q", out)
	}

	out, err = r.Render("blocked", []byte(`{{ env "CONFCTRL_BLOCKED" }}`))
	if err != nil {
		t.Fatalf("render blocked: %v", err)
	}
	if string(out) != "" {
		t.Fatalf("unlisted env must resolve empty, got %q", out)
	}
}

func TestRenderEnvUnrestrictedWhenAllowed(t *testing.T) {
	t.Setenv("CONFCTRL_OPEN", "open-value")

	r := NewRenderer(true, nil)
	out, err := r.Render("open", []byte(`{{ env "CONFCTRL_OPEN" }}`))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(out) != "open-value" {
		t.Fatalf("empty allow-list with allowEnv must resolve all, got %q", out)
	}
}

func TestRenderFilesystemHelpersRemoved(t *testing.T) {
	r := NewRenderer(true, nil)
	for _, fn := range []string{"readFile", "readDir", "expandenv", "glob"} {
		_, err := r.Render("restricted", []byte(`{{ `+fn+` "/etc/passwd" }}`))
		if err == nil {
			t.Fatalf("%s must not be available to templates", fn)
		}
		if !strings.Contains(err.Error(), "parse") {
			t.Fatalf("expected a parse failure for %s, got %v", fn, err)
		}
	}
}

func TestRenderParseErrors(t *testing.T) {
	r := NewRenderer(false, nil)
	if _, err := r.Render("bad", []byte(`{{ unterminated`)); err == nil {
		t.Fatalf("malformed templates must error")
	}
}
