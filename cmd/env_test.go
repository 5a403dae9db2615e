// Testing Strategy Design Decision:
//
// The cmd/ package contains CLI integration tests that exercise the full stack:
// command parsing -> service layer -> store layer -> SQLite.
//
// Some internal packages show "[no test files]" - this is intentional.
// These packages are covered by the CLI integration tests:
//   - internal/importer, internal/exporter: covered by load/export tests
//   - internal/format: covered by search/history/db tests (table output)
//   - internal/repo, internal/config: covered by init/db/config tests
//
// Unit tests for these packages would duplicate coverage without adding value.
// If underlying functionality breaks, the CLI tests fail - proving the stack works.
//
// Each invocation runs the built binary in its own process, so the lazy
// store initialisation and extension wiring run exactly as they do for users.

package cmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	binaryPath string
	buildOnce  sync.Once
	buildErr   error
)

// buildBinary compiles the fhird binary once for all tests.
func buildBinary(t *testing.T) string {
	t.Helper()

	buildOnce.Do(func() {
		tmpDir, err := os.MkdirTemp("", "fhird-test-bin-*")
		if err != nil {
			buildErr = err
			return
		}

		binaryName := "fhird"
		if os.PathSeparator == '\\' {
			binaryName = "fhird.exe"
		}
		binaryPath = filepath.Join(tmpDir, binaryName)

		// Find project root (parent of cmd/)
		wd := mustGetwd()
		projectRoot := filepath.Dir(wd)

		cmd := exec.Command("go", "build", "-o", binaryPath, ".")
		cmd.Dir = projectRoot
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = &buildError{err: err, output: string(out)}
			return
		}
	})

	if buildErr != nil {
		t.Fatalf("failed to build binary: %v", buildErr)
	}
	return binaryPath
}

type buildError struct {
	err    error
	output string
}

func (e *buildError) Error() string {
	return e.err.Error() + "\n" + e.output
}

func mustGetwd() string {
	dir, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return dir
}

// testEnv holds test environment state.
type testEnv struct {
	t      *testing.T
	dir    string
	binary string
}

// newTestEnv creates a temporary directory with an initialised fhird store.
//
// HOME points into the temp directory so global config and the user's real
// ~/.config/fhird never leak into tests.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	binary := buildBinary(t)
	dir := t.TempDir()

	env := &testEnv{t: t, dir: dir, binary: binary}
	env.run("init")

	return env
}

// run executes fhird with the given args and returns combined output.
func (e *testEnv) run(args ...string) string {
	e.t.Helper()
	out, err := e.runErr(args...)
	if err != nil {
		e.t.Fatalf("fhird %v failed: %v\noutput: %s", args, err, out)
	}
	return out
}

// runErr executes fhird and returns combined output and any error.
func (e *testEnv) runErr(args ...string) (string, error) {
	e.t.Helper()

	cmd := exec.Command(e.binary, args...)
	cmd.Dir = e.dir
	cmd.Env = e.cmdEnv()
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// runIn executes fhird from a different working directory.
func (e *testEnv) runIn(dir string, args ...string) (string, error) {
	e.t.Helper()

	cmd := exec.Command(e.binary, args...)
	cmd.Dir = dir
	cmd.Env = e.cmdEnv()
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// runStdin executes fhird with stdin input.
func (e *testEnv) runStdin(input string, args ...string) string {
	e.t.Helper()

	cmd := exec.Command(e.binary, args...)
	cmd.Dir = e.dir
	cmd.Env = e.cmdEnv()
	cmd.Stdin = strings.NewReader(input)
	out, err := cmd.CombinedOutput()
	if err != nil {
		e.t.Fatalf("fhird %v failed: %v\noutput: %s", args, err, out)
	}
	return string(out)
}

func (e *testEnv) cmdEnv() []string {
	return append(os.Environ(),
		"HOME="+e.dir,
		"XDG_CONFIG_HOME="+filepath.Join(e.dir, ".config"),
	)
}

// writeFile creates a file in the test directory and returns its path.
func (e *testEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// seed loads the given resources, one JSON document per line.
func (e *testEnv) seed(lines ...string) {
	e.t.Helper()
	path := e.writeFile("seed.ndjson", strings.Join(lines, "\n")+"\n")
	e.run("load", path)
}

// contains checks if output contains expected string.
func (e *testEnv) contains(output, expected string) {
	e.t.Helper()
	assert.Contains(e.t, output, expected)
}

// notContains checks if output does not contain the string.
func (e *testEnv) notContains(output, unexpected string) {
	e.t.Helper()
	assert.NotContains(e.t, output, unexpected)
}

// equals checks if output equals expected string (trimmed).
func (e *testEnv) equals(output, expected string) {
	e.t.Helper()
	assert.Equal(e.t, strings.TrimSpace(expected), strings.TrimSpace(output))
}

// Canonical test resources. Kept as single-line JSON so they double as
// NDJSON lines for load/export tests.
const (
	patientSmith = `{"resourceType":"Patient","id":"p1","name":[{"family":"Smith","given":["Emily"]}],"gender":"female","birthDate":"1990-04-12"}`

	patientJones = `{"resourceType":"Patient","id":"p2","name":[{"family":"Jones","given":["Sam"]}],"gender":"male","birthDate":"1978-11-02"}`

	obsHeartRate = `{"resourceType":"Observation","id":"o1","status":"final","code":{"coding":[{"system":"http://loinc.org","code":"8867-4","display":"Heart rate"}]},"subject":{"reference":"Patient/p1"},"effectiveDateTime":"2024-06-01T08:30:00Z","valueQuantity":{"value":72,"unit":"beats/minute","system":"http://unitsofmeasure.org","code":"/min"}}`

	obsBodyTemp = `{"resourceType":"Observation","id":"o2","status":"preliminary","code":{"coding":[{"system":"http://loinc.org","code":"8310-5","display":"Body temperature"}]},"subject":{"reference":"Patient/p2"},"effectiveDateTime":"2024-07-15T12:00:00Z","valueQuantity":{"value":37.2,"unit":"Cel","system":"http://unitsofmeasure.org","code":"Cel"}}`
)
