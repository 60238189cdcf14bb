// Package sandbox runs allowlisted commands inside a fixed working directory
// with a timeout and a cap on captured output.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// DefaultAllow lists the binaries the terminal may start.
var DefaultAllow = []string{"ls", "pwd", "mkdir", "cp", "mv", "cat", "echo", "open", "touch", "node", "npm", "yarn", "git"}

// Rejections, all wrapping domain.ErrInvalidArgument.
var (
	ErrEmptyCommand      = fmt.Errorf("cmd is required: %w", domain.ErrInvalidArgument)
	ErrUnsupportedSymbol = fmt.Errorf("unsupported characters: %w", domain.ErrInvalidArgument)
	ErrNotAllowed        = fmt.Errorf("command not allowed: %w", domain.ErrInvalidArgument)
)

const forbiddenSymbols = ";&|><`$"

// Result is the outcome of one command. Code is -1 when the process was killed.
type Result struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Runner executes commands in Dir.
type Runner struct {
	Dir         string
	Timeout     time.Duration
	OutputLimit int
	Allow       []string
}

// NewRunner creates the sandbox directory if needed.
func NewRunner(dir string, timeout time.Duration, outputLimit int) (*Runner, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("op=sandbox.new: %w", err)
	}
	return &Runner{Dir: dir, Timeout: timeout, OutputLimit: outputLimit, Allow: DefaultAllow}, nil
}

// Parse splits cmd into a binary and its arguments, enforcing the symbol and binary rules.
func (r *Runner) Parse(cmd string) (string, []string, error) {
	if strings.TrimSpace(cmd) == "" {
		return "", nil, ErrEmptyCommand
	}
	if strings.ContainsAny(cmd, forbiddenSymbols) {
		return "", nil, ErrUnsupportedSymbol
	}
	words, err := shellquote.Split(cmd)
	if err != nil {
		return "", nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidArgument)
	}
	if len(words) == 0 || !slices.Contains(r.Allow, words[0]) {
		return "", nil, ErrNotAllowed
	}
	return words[0], words[1:], nil
}

// Run executes cmd. Process failures are reported through Result.Code, not the error.
func (r *Runner) Run(ctx context.Context, cmd string) (Result, error) {
	bin, args, err := r.Parse(cmd)
	if err != nil {
		return Result{}, err
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	ctx, kill := context.WithCancel(ctx)
	defer kill()

	stdout := &cappedBuffer{limit: r.OutputLimit, onOverflow: kill}
	stderr := &cappedBuffer{limit: r.OutputLimit, onOverflow: kill}
	c := exec.CommandContext(ctx, bin, args...)
	c.Dir = r.Dir
	c.Stdout = stdout
	c.Stderr = stderr

	code := 0
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("op=sandbox.run: %w", err)
		}
		code = exitErr.ExitCode()
	}
	slog.InfoContext(ctx, "terminal command finished", slog.String("bin", bin), slog.Int("code", code))
	return Result{Code: code, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// cappedBuffer keeps at most limit bytes and fires onOverflow once when more arrive.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int
	overflowed bool
	onOverflow func()
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - b.buf.Len()
	if len(p) > room {
		b.buf.Write(p[:max(0, room)])
		if !b.overflowed {
			b.overflowed = true
			b.onOverflow()
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
