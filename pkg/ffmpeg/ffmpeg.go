// Package ffmpeg runs ffmpeg and ffprobe bound to a context.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
)

const stderrTailSize = 2048

type Runner struct {
	FFmpegPath  string
	FFprobePath string
}

func NewRunner(ffmpegPath, ffprobePath string) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Runner{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
	}
}

// Available checks that both binaries could be found.
func (r *Runner) Available() error {
	if _, err := exec.LookPath(r.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg is not available: %w", err)
	}
	if _, err := exec.LookPath(r.FFprobePath); err != nil {
		return fmt.Errorf("ffprobe is not available: %w", err)
	}
	return nil
}

// Run executes ffmpeg and returns its stderr.
func (r *Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	_, stderr, err := r.exec(ctx, r.FFmpegPath, nil, args...)
	return stderr, err
}

// Pipe executes ffmpeg feeding stdin and returns its stdout.
func (r *Runner) Pipe(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	stdout, _, err := r.exec(ctx, r.FFmpegPath, stdin, args...)
	return stdout, err
}

// HasFilter reports whether ffmpeg was built with the given filter.
func (r *Runner) HasFilter(ctx context.Context, name string) (bool, error) {
	stdout, _, err := r.exec(ctx, r.FFmpegPath, nil, "-hide_banner", "-filters")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true, nil
		}
	}
	return false, nil
}

// HasEncoder reports whether ffmpeg was built with the given encoder.
func (r *Runner) HasEncoder(ctx context.Context, name string) (bool, error) {
	stdout, _, err := r.exec(ctx, r.FFmpegPath, nil, "-hide_banner", "-encoders")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *Runner) exec(
	ctx context.Context,
	bin string,
	stdin []byte,
	args ...string,
) (_ []byte, _ []byte, _err error) {
	logger.Tracef(ctx, "exec %s %s", bin, strings.Join(args, " "))
	defer func() { logger.Tracef(ctx, "/exec %s: %v", bin, _err) }()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, stderr.Bytes(), fmt.Errorf("%s was interrupted: %w", bin, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, stderr.Bytes(), &ExitError{
			Binary:   bin,
			ExitCode: exitErr.ExitCode(),
			Stderr:   tail(stderr.Bytes(), stderrTailSize),
		}
	}
	return nil, stderr.Bytes(), fmt.Errorf("unable to run %s: %w", bin, err)
}

// ExitError is returned when the process exits with a non-zero status.
type ExitError struct {
	Binary   string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Binary, e.ExitCode, e.Stderr)
}

func tail(b []byte, size int) string {
	if len(b) > size {
		b = b[len(b)-size:]
	}
	return strings.TrimSpace(string(b))
}
