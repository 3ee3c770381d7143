// pkg/execute/helpers.go

package execute

import (
	"context"
	"strings"
	"time"
)

func defaultTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return DefaultTimeout
}

func buildCommandString(command string, args ...string) string {
	return strings.TrimSpace(command + " " + strings.Join(args, " "))
}

// RunSimple executes a command through r with default options.
func RunSimple(ctx context.Context, r Runner, cmd string, args ...string) error {
	_, err := r.Run(ctx, Options{Command: cmd, Args: args})
	return err
}

// Output executes a command through r and returns its combined output.
func Output(ctx context.Context, r Runner, cmd string, args ...string) (string, error) {
	return r.Run(ctx, Options{Command: cmd, Args: args, Capture: true})
}

func mask(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "********")
		}
	}
	return s
}
