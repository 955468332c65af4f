// Package segmentation runs the external segmentation tool that turns a
// scan into label maps.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// DefaultCommand is the segmentation tool started when none is configured
const DefaultCommand = "TotalSegmentator"

// Options control a single segmentation run
type Options struct {
	Task  string
	Speed Speed
	// Multilabel writes one label map for the task instead of a directory
	// of per-structure masks
	Multilabel bool
	Statistics bool
	// Device is passed through when set (gpu, cpu, mps)
	Device string
}

// ProcessError reports a segmentation tool that exited unsuccessfully
type ProcessError struct {
	ExitCode int
	Command  []string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s exited with status %d", strings.Join(e.Command, " "), e.ExitCode)
}

// Segmenter produces label maps for an input scan
type Segmenter interface {
	Segment(ctx context.Context, input, output string, opts Options) error
}

// Invoker runs the segmentation tool as a child process
type Invoker struct {
	// Command is the tool prefix, split with shell quoting rules
	Command string
	// ExtraArgs are appended after the generated arguments
	ExtraArgs []string
	Stdout    io.Writer
	Stderr    io.Writer
	Logger    *slog.Logger
}

// NewInvoker returns an invoker for command that streams to the process
// stdout and stderr
func NewInvoker(command string) *Invoker {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	return &Invoker{
		Command: command,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Args builds the full command line for a run
func (inv *Invoker) Args(input, output string, opts Options) ([]string, error) {
	prefix, err := shellwords.Parse(inv.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid segmentation command %q: %w", inv.Command, err)
	}
	if len(prefix) == 0 {
		return nil, fmt.Errorf("empty segmentation command")
	}
	if opts.Task == "" {
		return nil, fmt.Errorf("no segmentation task given")
	}

	args := append(prefix, "-i", input, "-o", output, "--task", opts.Task)
	if opts.Speed == Fast {
		args = append(args, "--fast")
	}
	if opts.Multilabel {
		args = append(args, "--ml")
	}
	if opts.Statistics {
		args = append(args, "--statistics")
	}
	if opts.Device != "" {
		args = append(args, "--device", opts.Device)
	}
	return append(args, inv.ExtraArgs...), nil
}

// Segment runs the tool synchronously. Cancelling ctx kills the child.
func (inv *Invoker) Segment(ctx context.Context, input, output string, opts Options) error {
	args, err := inv.Args(input, output, opts)
	if err != nil {
		return err
	}
	logger := inv.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("running segmentation", "task", opts.Task, "input", input, "command", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return fmt.Errorf("segmentation interrupted: %w", ctx.Err())
			}
			return &ProcessError{ExitCode: exitErr.ExitCode(), Command: args}
		}
		return fmt.Errorf("failed to start %s: %w", args[0], err)
	}
	return nil
}
