package phases

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an external command in a working directory and
// returns its combined output. Swapped out in tests for a scripted fake.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) (string, error)

// runCommand is the production runner.
func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, tail(output, 500))
	}
	return output, nil
}

// tail returns at most n trailing bytes of s; command output is captured in
// full but errors only carry the end, where the cause usually is.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
