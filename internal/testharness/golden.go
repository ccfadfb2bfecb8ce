// Package testharness provides test utilities shared across packages: a
// scripted assistant backend and golden-file transcripts.
package testharness

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// UpdateGolden rewrites golden files instead of comparing. Set UPDATE_GOLDEN=1.
var UpdateGolden = os.Getenv("UPDATE_GOLDEN") == "1"

// Golden compares test output with files under testdata/golden.
type Golden struct {
	t    testing.TB
	dir  string
	name string
}

// NewGolden creates a helper rooted at testdata/golden in the package under test.
func NewGolden(t testing.TB) *Golden {
	t.Helper()
	return NewGoldenAt(t, filepath.Join("testdata", "golden"))
}

// NewGoldenAt creates a helper rooted at dir.
func NewGoldenAt(t testing.TB, dir string) *Golden {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create golden dir: %v", err)
	}
	return &Golden{t: t, dir: dir, name: sanitizeTestName(t.Name())}
}

// Assert compares actual against <test name>.golden.
func (g *Golden) Assert(actual string) {
	g.t.Helper()
	g.assertNamed("", actual)
}

// AssertJSONLines renders each value as compact JSON on its own line, the
// same framing the chat stream uses, and compares the transcript.
func (g *Golden) AssertJSONLines(values ...any) {
	g.t.Helper()
	var buf bytes.Buffer
	for _, v := range values {
		line, err := json.Marshal(v)
		if err != nil {
			g.t.Fatalf("failed to marshal JSON: %v", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	g.assertNamed("", buf.String())
}

func (g *Golden) assertNamed(name, actual string) {
	g.t.Helper()
	filename := g.goldenPath(name)

	if UpdateGolden {
		if err := os.WriteFile(filename, []byte(actual), 0o644); err != nil {
			g.t.Fatalf("failed to update golden file %s: %v", filename, err)
		}
		g.t.Logf("updated golden file: %s", filename)
		return
	}

	expected, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			g.t.Fatalf("golden file %s does not exist. Run with UPDATE_GOLDEN=1 to create it.\n\nActual output:\n%s", filename, actual)
		}
		g.t.Fatalf("failed to read golden file %s: %v", filename, err)
	}
	if string(expected) != actual {
		g.t.Errorf("golden file mismatch %s\n\nDiff:\n%s", filename, diff(string(expected), actual))
	}
}

func (g *Golden) goldenPath(name string) string {
	if name == "" {
		return filepath.Join(g.dir, g.name+".golden")
	}
	return filepath.Join(g.dir, g.name+"_"+name+".golden")
}

func sanitizeTestName(name string) string {
	return strings.NewReplacer("/", "_", " ", "_", ":", "_").Replace(name)
}

// diff returns a line-based diff of two strings.
func diff(expected, actual string) string {
	expectedLines := strings.Split(expected, "\n")
	actualLines := strings.Split(actual, "\n")
	n := max(len(expectedLines), len(actualLines))

	var result strings.Builder
	for i := 0; i < n; i++ {
		var exp, act string
		if i < len(expectedLines) {
			exp = expectedLines[i]
		}
		if i < len(actualLines) {
			act = actualLines[i]
		}
		if exp != act {
			result.WriteString("- " + exp + "\n+ " + act + "\n")
		}
	}
	return result.String()
}
