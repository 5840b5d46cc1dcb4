// Package params reads the per-cell parameter include-file written next to
// the input decks. Each assignment is evaluated as an expression over the
// assignments above it, the same way the post-processing scripts do. An
// assignment that does not evaluate is logged and skipped.
package params

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/spf13/afero"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"tyre-matrix/internal/ctxlog"
)

// Set holds numeric parameters keyed by lower-cased name.
type Set map[string]float64

// Get looks a parameter up case-insensitively.
func (s Set) Get(name string) (float64, bool) {
	v, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// Load reads and evaluates the file at path.
func Load(ctx context.Context, fsys afero.Fs, path string) (Set, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(ctx, f, path)
}

// Parse evaluates an include-file. Blank lines, comment lines (starting
// with "*" or "C ") and lines without "=" are ignored. Assignments that fail
// to evaluate, or whose value is not a number, are left out of the set and
// later lines cannot reference them. Only read errors are returned.
func Parse(ctx context.Context, r io.Reader, filename string) (Set, error) {
	logger := ctxlog.FromContext(ctx)
	out := Set{}
	env := starlark.StringDict{}
	thread := &starlark.Thread{Name: "params"}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if skipLine(line) {
			continue
		}
		name, expr, _ := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		expr = strings.TrimSpace(expr)
		if name == "" || expr == "" {
			continue
		}

		val, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, filename, expr, env)
		if err != nil {
			logger.Warn("Parameter skipped.", "file", filename, "line", lineNo, "name", name, "error", err)
			continue
		}
		f, ok := toFloat(val)
		if !ok {
			continue
		}
		key := strings.ToLower(name)
		out[key] = f
		env[key] = starlark.Float(f)
		env[name] = starlark.Float(f)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func skipLine(line string) bool {
	if line == "" || strings.HasPrefix(line, "*") {
		return true
	}
	if line == "C" || strings.HasPrefix(line, "C ") || strings.HasPrefix(line, "C\t") {
		return true
	}
	return !strings.Contains(line, "=")
}

func toFloat(v starlark.Value) (float64, bool) {
	switch x := v.(type) {
	case starlark.Float:
		return float64(x), true
	case starlark.Int:
		i, ok := x.Int64()
		return float64(i), ok
	}
	return 0, false
}
