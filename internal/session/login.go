package session

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// LoginAgent drives the out-of-process headless-browser login. The script
// performs the full interactive login and writes the resulting cookies back
// through the engine's cookie endpoint; the only contract here is arguments
// and exit code.
type LoginAgent struct {
	Command string // interpreter, normally "node"
	Script  string
	Timeout time.Duration
	Enabled bool

	log *zap.Logger
}

func NewLoginAgent(script string, timeout time.Duration, enabled bool, log *zap.Logger) *LoginAgent {
	return &LoginAgent{
		Command: "node",
		Script:  script,
		Timeout: timeout,
		Enabled: enabled,
		log:     log,
	}
}

// Run executes the login script and maps its exit code to success/failure.
// Output is captured for diagnostics only.
func (a *LoginAgent) Run(ctx context.Context, email, password string) error {
	if !a.Enabled {
		return errors.New("automated session refresh is disabled")
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	a.log.Info("starting external login agent", zap.String("email", email))

	cmd := exec.CommandContext(ctx, a.Command, a.Script,
		"--email", email,
		"--password", password,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		a.log.Error("login agent failed",
			zap.Error(err),
			zap.ByteString("output", truncate(out, 4096)))
		return fmt.Errorf("login agent: %w", err)
	}

	a.log.Info("login agent completed",
		zap.ByteString("output", truncate(out, 1024)))
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
