package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/servo/compiler"
	"github.com/chazu/servo/pkg/bytecode"
	"github.com/chazu/servo/store"
)

// runCLI runs the CLI with args and stdin, returning the exit code and output.
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunExpression(t *testing.T) {
	tests := []struct {
		expr   string
		code   int
		stdout string
		stderr string
	}{
		{"3 + 4 * 2", 0, "11\n", ""},
		{"-2 ^ 2", 0, "-4\n", ""},
		{"true", 0, "true\n", ""},
		{"null", 0, "null\n", ""},
		{"1 +", 65, "", "Expect expression."},
		{"5 / 0", 70, "", "division by zero"},
		{"-false", 70, "", "type mismatch"},
	}

	for _, tt := range tests {
		code, stdout, stderr := runCLI(t, "", "-no-config", "-e", tt.expr)
		if code != tt.code {
			t.Errorf("-e %q exit = %d, want %d (stderr %q)", tt.expr, code, tt.code, stderr)
		}
		if stdout != tt.stdout {
			t.Errorf("-e %q stdout = %q, want %q", tt.expr, stdout, tt.stdout)
		}
		if !strings.Contains(stderr, tt.stderr) {
			t.Errorf("-e %q stderr = %q, want %q", tt.expr, stderr, tt.stderr)
		}
	}
}

func TestRunFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "calc.servo", "// sum\n(1 + 2)\n  * 3;\n")

	code, stdout, stderr := runCLI(t, "", "-no-config", path)
	if code != 0 || stdout != "9\n" {
		t.Errorf("run file = %d %q %q", code, stdout, stderr)
	}
}

func TestRunFileRuntimeErrorLine(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.servo", "1 +\n\n(4 % 0)")

	code, _, stderr := runCLI(t, "", "-no-config", path)
	if code != 70 {
		t.Errorf("exit = %d, want 70", code)
	}
	if !strings.Contains(stderr, "[line 3]") {
		t.Errorf("stderr = %q, want line 3", stderr)
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"two files", []string{"-no-config", "a.servo", "b.servo"}, 64},
		{"unknown flag", []string{"-no-config", "-bogus"}, 64},
		{"expr and file", []string{"-no-config", "-e", "1", "a.servo"}, 64},
		{"cache conflict", []string{"-no-config", "-cache", "-no-cache", "-e", "1"}, 64},
		{"missing file", []string{"-no-config", filepath.Join(t.TempDir(), "nope.servo")}, 74},
		{"help", []string{"-h"}, 0},
	}

	for _, tt := range tests {
		code, _, _ := runCLI(t, "", tt.args...)
		if code != tt.code {
			t.Errorf("%s: exit = %d, want %d", tt.name, code, tt.code)
		}
	}
}

func TestRunDisassemble(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-no-config", "-d", "-e", "1 + 2")
	if code != 0 {
		t.Fatalf("exit = %d", code)
	}
	for _, want := range []string{"== <expr> ==", "CONSTANT", "ADD", "RETURN"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("disassembly missing %q:\n%s", want, stdout)
		}
	}
	if strings.HasSuffix(stdout, "3\n") {
		t.Error("disassemble mode also ran the chunk")
	}
}

func TestRunPrintCodeAndTrace(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-no-config", "-print-code", "-trace", "-e", "1 + 2")
	if code != 0 {
		t.Fatalf("exit = %d", code)
	}
	for _, want := range []string{"== <expr> ==", "[ 1 ][ 2 ]", "[ 3 ]"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if !strings.HasSuffix(stdout, "3\n") {
		t.Errorf("result not printed last:\n%s", stdout)
	}
}

func TestREPL(t *testing.T) {
	input := "1 + 2\n\n5 / 0\n(1 +\ntrue\nexit\n99\n"
	code, stdout, stderr := runCLI(t, input, "-no-config")
	if code != 0 {
		t.Errorf("REPL exit = %d, want 0", code)
	}
	if !strings.Contains(stdout, "3\n") || !strings.Contains(stdout, "true\n") {
		t.Errorf("REPL stdout = %q", stdout)
	}
	if strings.Contains(stdout, "99") {
		t.Error("REPL evaluated input after exit")
	}
	if !strings.Contains(stderr, "division by zero") || !strings.Contains(stderr, "Expect expression") {
		t.Errorf("REPL stderr = %q", stderr)
	}
}

func TestREPLEndOfInput(t *testing.T) {
	code, stdout, _ := runCLI(t, "2 * 21", "-no-config")
	if code != 0 || !strings.Contains(stdout, "42\n") {
		t.Errorf("REPL at EOF = %d %q", code, stdout)
	}
}

func TestREPLFatalStackLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servo.toml", "[vm]\nstack-capacity = 8\nmax-stack = 8\n")

	deep := "1"
	for i := 0; i < 10; i++ {
		deep = "1 + (" + deep + ")"
	}
	code, _, stderr := runCLI(t, deep+"\n1\n", "-config", dir)
	if code != 70 {
		t.Errorf("exit = %d, want 70", code)
	}
	if !strings.Contains(stderr, "fatal:") {
		t.Errorf("stderr = %q, want fatal report", stderr)
	}
}

func TestRunWithCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servo.toml", "[cache]\nenabled = true\npath = \"cache/chunks.db\"\n")

	for i := 0; i < 2; i++ {
		code, stdout, stderr := runCLI(t, "", "-config", dir, "-e", "6 * 7")
		if code != 0 || stdout != "42\n" {
			t.Fatalf("run %d = %d %q %q", i, code, stdout, stderr)
		}
	}

	code, stdout, _ := runCLI(t, "", "-config", dir, "-cache-stats")
	if code != 0 {
		t.Fatalf("-cache-stats exit = %d", code)
	}
	if !strings.Contains(stdout, "Entries: 1") || !strings.Contains(stdout, "Hits:    1") {
		t.Errorf("-cache-stats = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "cache", "chunks.db")); err != nil {
		t.Errorf("cache file not created: %v", err)
	}

	code, stdout, _ = runCLI(t, "", "-config", dir, "-cache-purge")
	if code != 0 || !strings.Contains(stdout, "Purged 1 entries") {
		t.Errorf("-cache-purge = %d %q", code, stdout)
	}
}

func TestRunBadConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servo.toml", "[vm]\nmax-stack = \"lots\"\n")

	code, _, stderr := runCLI(t, "", "-config", dir, "-e", "1")
	if code != 64 || !strings.Contains(stderr, "servo.toml") {
		t.Errorf("bad config = %d %q", code, stderr)
	}
}

func TestExecuteInterpretsThroughVM(t *testing.T) {
	var stdout, stderr bytes.Buffer
	calls := 0
	vm := bytecode.NewVM()
	vm.UseCompiler(func(source string, chunk *bytecode.Chunk) error {
		calls++
		return compiler.Compile(source, chunk)
	})
	r := &runner{vm: vm, stdout: &stdout, stderr: &stderr}

	if code := r.execute("<expr>", "2 * 5", false); code != 0 || stdout.String() != "10\n" {
		t.Errorf("execute = %d %q %q", code, stdout.String(), stderr.String())
	}
	if calls != 1 {
		t.Errorf("VM compiler called %d times, want 1", calls)
	}
}

func TestExecuteWithUnreadableCache(t *testing.T) {
	cache, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	cache.Close()

	var stdout, stderr bytes.Buffer
	vm := bytecode.NewVM()
	r := &runner{vm: vm, cache: cache, stdout: &stdout, stderr: &stderr}

	if code := r.execute("<expr>", "1 + 2", false); code != 0 || stdout.String() != "3\n" {
		t.Errorf("execute = %d %q %q", code, stdout.String(), stderr.String())
	}
	stdout.Reset()
	if code := r.execute("<expr>", "1 +", false); code != 65 {
		t.Errorf("execute(1 +) = %d, want 65", code)
	}
}

func TestRunStackReservationFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servo.toml", "[vm]\nstack-capacity = 4611686018427387904\nmax-stack = 0\n")

	code, _, stderr := runCLI(t, "", "-config", dir, "-e", "1")
	if code != 70 {
		t.Errorf("exit = %d, want 70", code)
	}
	if !strings.Contains(stderr, "fatal:") {
		t.Errorf("stderr = %q, want fatal report", stderr)
	}
}
