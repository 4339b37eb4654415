// Package env composes the environment handed to the supervised process.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Env is an ordered set of variables. Later writes override earlier ones but
// keep the position of the first write.
type Env struct {
	vars  map[string]string
	order []string
}

func New() *Env {
	return &Env{vars: make(map[string]string)}
}

// Set sets K=V. Empty keys are ignored.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if _, ok := e.vars[k]; !ok {
		e.order = append(e.order, k)
	}
	e.vars[k] = v
}

func (e *Env) Get(k string) (string, bool) {
	v, ok := e.vars[k]
	return v, ok
}

// SetPairs applies KEY=VALUE entries in order.
func (e *Env) SetPairs(pairs []string) error {
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("env entry %q must be KEY=VALUE", kv)
		}
		e.Set(k, v)
	}
	return nil
}

// LoadFile applies a .env file: KEY=VALUE lines, # comments, optional
// "export " prefix and one pair of surrounding quotes on the value.
func (e *Env) LoadFile(path string) error {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	for n, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("line %d: missing '='", n+1)
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return fmt.Errorf("line %d: empty key", n+1)
		}
		e.Set(k, unquote(strings.TrimSpace(v)))
	}
	return nil
}

// List returns the variables as KEY=VALUE in insertion order. ${VAR}
// references are expanded once against the set itself, then the OS
// environment; unknown references are left untouched.
func (e *Env) List() []string {
	out := make([]string, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, k+"="+e.expand(e.vars[k]))
	}
	return out
}

func (e *Env) expand(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := e.vars[name]; ok {
			b.WriteString(v)
		} else if v, ok := os.LookupEnv(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}

// Compose applies files in order, then the inline pairs, and returns the result of List.
func Compose(files, inline []string) ([]string, error) {
	e := New()
	for _, p := range files {
		if err := e.LoadFile(p); err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
	}
	if err := e.SetPairs(inline); err != nil {
		return nil, err
	}
	return e.List(), nil
}

func unquote(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
			return v[1 : n-1]
		}
	}
	return v
}
