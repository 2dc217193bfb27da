package fetcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
)

// Program runs a shell command and returns its stdout as agent output.
type Program struct {
	Command string
	Logger  *zap.SugaredLogger
}

func (p *Program) Open(ctx context.Context) error { return nil }

func (p *Program) Fetch(ctx context.Context) ([]byte, error) {
	stdout, err := runCommand(ctx, p.Command, p.Logger)
	if err != nil {
		return nil, err
	}
	if len(stdout) == 0 {
		return nil, &errs.EmptyDataError{Msg: "empty output from agent"}
	}
	return stdout, nil
}

func (p *Program) Close() error { return nil }

func runCommand(ctx context.Context, command string, logger *zap.SugaredLogger) ([]byte, error) {
	return runCommandEnv(ctx, command, nil, logger)
}

func runCommandEnv(ctx context.Context, command string, env []string, logger *zap.SugaredLogger) ([]byte, error) {
	logger.Debugw("running program", "command", command)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, classify(ctx, ctx.Err(), "running %q", command)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 127 {
			return nil, errs.Transport(nil, "program %q not found (exit code 127)", command)
		}
		return nil, errs.Transport(nil, "agent exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		return nil, errs.Transport(err, "running %q", command)
	}
	return stdout.Bytes(), nil
}

func credentialEnv(prefix string, credentials map[string]string) []string {
	env := make([]string, 0, len(credentials))
	for key, value := range credentials {
		env = append(env, prefix+strings.ToUpper(key)+"="+value)
	}
	sort.Strings(env)
	return env
}

// SpecialAgentCommand returns the command line of the special agent called name.
// Special agents are executables named agent_<name> in dir.
func SpecialAgentCommand(dir, name string, args []string) string {
	parts := []string{shellQuote(filepath.Join(dir, "agent_"+name))}
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./=:,@") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
