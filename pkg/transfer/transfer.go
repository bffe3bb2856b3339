// Package transfer runs one mirroring subprocess per source directory and
// turns its text output into live progress events and final statistics. The
// subprocess is rsync under sudo, so it can read root-owned source trees and
// write to the mount.
package transfer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/romsteck/homeroute-backup/pkg/events"
	"github.com/romsteck/homeroute-backup/pkg/plog"
	"github.com/romsteck/homeroute-backup/pkg/progress"
	"github.com/romsteck/homeroute-backup/pkg/runlock"
)

// ErrCancelled is returned when the run's cancellation flag was set while
// the subprocess was alive, regardless of its exit code. A process that
// races to a clean exit after the signal is still reported as cancelled.
var ErrCancelled = errors.New("transfer cancelled")

// Request identifies one source directory within a run.
type Request struct {
	SourcePath   string
	DestPath     string
	SourceIndex  int
	SourceName   string
	SourcesCount int
}

// ProgressPayload is the wire shape of a progress event.
type ProgressPayload struct {
	SourceIndex      int    `json:"sourceIndex"`
	SourceName       string `json:"sourceName"`
	SourcesCount     int    `json:"sourcesCount"`
	Percent          int    `json:"percent"`
	TransferredBytes int64  `json:"transferredBytes"`
	Speed            string `json:"speed"`
}

// Runner spawns and supervises mirroring subprocesses.
type Runner struct {
	token *runlock.Token
	hub   *events.Hub

	// commandContext is swapped out in tests.
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewRunner creates a runner that registers subprocesses with token and
// publishes progress to hub.
func NewRunner(token *runlock.Token, hub *events.Hub) *Runner {
	return &Runner{
		token:          token,
		hub:            hub,
		commandContext: exec.CommandContext,
	}
}

// mirrorArgs builds the rsync invocation. stdbuf forces line-buffered output
// so progress keeps flowing when rsync is not attached to a terminal.
//
//	-a                  archive mode
//	--delete            remove destination files absent from the source
//	--one-file-system   do not cross filesystem boundaries
//	--info=progress2    whole-transfer progress on a single updating line
//	--stats             end-of-run summary block for the final statistics
func mirrorArgs(src, dst string) []string {
	return []string{
		"stdbuf", "-oL", "-eL",
		"rsync", "-a", "--delete", "--one-file-system",
		"--info=progress2", "--stats",
		src + "/", dst + "/",
	}
}

// Run mirrors one source directory onto its destination. It blocks until the
// subprocess exits and returns the statistics parsed from the tool's summary
// block, or an error embedding the exit code and captured stderr.
func (r *Runner) Run(ctx context.Context, req Request) (progress.Stats, error) {
	args := mirrorArgs(req.SourcePath, req.DestPath)
	cmd := r.commandContext(ctx, "sudo", args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return progress.Stats{}, fmt.Errorf("could not open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return progress.Stats{}, fmt.Errorf("could not open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return progress.Stats{}, fmt.Errorf("could not start mirroring tool: %w", err)
	}

	r.token.Register(cmd.Process.Pid)
	defer r.token.Deregister()

	plog.Debug("Mirroring subprocess started",
		"source", req.SourcePath, "dest", req.DestPath, "pid", cmd.Process.Pid)

	// rsync is inconsistent about which stream carries progress, so both are
	// fed through the parser. Each stream keeps its own capture buffer; the
	// summary is extracted from their combined contents afterwards.
	var capture streamCapture
	var g errgroup.Group
	g.Go(func() error { return r.pump(stdout, &capture, req) })
	g.Go(func() error { return r.pump(stderr, &capture, req) })
	pumpErr := g.Wait()

	waitErr := cmd.Wait()

	if r.token.IsCancelled() {
		return progress.Stats{}, ErrCancelled
	}
	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return progress.Stats{}, fmt.Errorf("mirroring tool exited with code %d: %s",
			exitCode, capture.errorTail())
	}
	if pumpErr != nil {
		return progress.Stats{}, fmt.Errorf("could not read mirroring tool output: %w", pumpErr)
	}

	return progress.ParseSummary(capture.combined()), nil
}

// pump reads one output stream line by line, publishing every parsed
// progress sample immediately and capturing the raw text.
func (r *Runner) pump(stream io.Reader, capture *streamCapture, req Request) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	scanner.Split(scanProgressLines)

	for scanner.Scan() {
		line := scanner.Text()
		capture.append(line)

		sample, ok := progress.ParseLine(line)
		if !ok {
			continue
		}
		r.hub.Publish(events.Event{
			Event: events.TypeProgress,
			Data: ProgressPayload{
				SourceIndex:      req.SourceIndex,
				SourceName:       req.SourceName,
				SourcesCount:     req.SourcesCount,
				Percent:          sample.Percent,
				TransferredBytes: sample.TransferredBytes,
				Speed:            sample.Speed,
			},
		})
	}
	return scanner.Err()
}

// scanProgressLines splits on newline or carriage return, because progress2
// rewrites a single line with bare \r between updates.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// streamCapture accumulates output lines from both streams. The error tail
// is bounded so a pathological subprocess cannot balloon an error message.
type streamCapture struct {
	mu    sync.Mutex
	lines []string
}

func (c *streamCapture) append(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *streamCapture) combined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b bytes.Buffer
	for _, l := range c.lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *streamCapture) errorTail() string {
	const maxLines = 20
	c.mu.Lock()
	defer c.mu.Unlock()
	start := 0
	if len(c.lines) > maxLines {
		start = len(c.lines) - maxLines
	}
	var b bytes.Buffer
	for _, l := range c.lines[start:] {
		if l == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(l)
	}
	return b.String()
}
