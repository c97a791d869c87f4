package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/servo/pkg/bytecode"
)

// repl reads one expression per line and evaluates it on the shared VM.
// Errors are reported and the loop continues; only a fatal allocation
// failure ends the session early.
func (r *runner) repl(stdin io.Reader) int {
	fmt.Fprintln(r.stdout, "Servo REPL (type 'exit' to quit)")

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(r.stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.stdout)
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			break
		}

		r.execute("<repl>", line, false)
		if r.fatal {
			return bytecode.InterpretRuntimeError.ExitCode()
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(r.stderr, "Error: %v\n", err)
		return exitIO
	}
	return 0
}
