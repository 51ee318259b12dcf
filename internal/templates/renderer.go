// Package templates renders template-backed specification files (*.tmpl)
// before they are parsed. Sprig's text helpers are available, but the
// environment and filesystem helpers are restricted so a specification file
// can only read the env vars an operator explicitly allowed.
package templates

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer compiles and executes specification templates. It is safe for
// concurrent use.
type Renderer struct {
	allowEnv bool
	allowed  map[string]struct{}
	funcs    template.FuncMap
}

// NewRenderer constructs a renderer honoring the env allow-list policy. When
// allowEnv is false every env lookup resolves to the empty string; when the
// allow-list is non-empty only listed variables resolve.
func NewRenderer(allowEnv bool, allowedEnv []string) *Renderer {
	funcs := sprig.TxtFuncMap()
	// Sprig's filesystem helpers bypass any notion of a document root, and
	// expandenv reads the whole process environment. Both are removed; env is
	// replaced below with the policy-aware lookup.
	restricted := []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	}
	for _, name := range restricted {
		delete(funcs, name)
	}

	r := &Renderer{allowEnv: allowEnv, funcs: make(template.FuncMap, len(funcs)+1)}
	if len(allowedEnv) > 0 {
		r.allowed = make(map[string]struct{}, len(allowedEnv))
		for _, name := range allowedEnv {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				r.allowed[trimmed] = struct{}{}
			}
		}
	}
	for name, fn := range funcs {
		r.funcs[name] = fn
	}
	r.funcs["env"] = r.lookupEnv
	return r
}

// Render executes the template source with no data payload; templated spec
// files draw exclusively on helper functions and the allowed environment.
func (r *Renderer) Render(name string, src []byte) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("templates: parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("templates: render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) lookupEnv(key string) string {
	if !r.allowEnv {
		return ""
	}
	if r.allowed != nil {
		if _, ok := r.allowed[key]; !ok {
			return ""
		}
	}
	return os.Getenv(key)
}
