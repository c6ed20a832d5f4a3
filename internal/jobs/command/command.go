package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"fifosched/internal/job"
	logx "fifosched/pkg/logx"

	"github.com/kballard/go-shellquote"
)

const (
	// maxMessages caps captured output lines per run.
	maxMessages = 200
	// maxLineBytes caps one captured line; the rest of it is dropped.
	maxLineBytes = 64 << 10
	// waitDelay bounds how long Run waits for output pipes after the
	// process is killed.
	waitDelay = 2 * time.Second
)

var ErrMissingCommand = errors.New("command is empty")

// Spec describes a command job. Name is the dedup key.
type Spec struct {
	Name    string
	Command string
	Dir     string
	Env     []string // KEY=VALUE, appended to the daemon's environment
}

// Factory returns a constructor producing a fresh Job per call.
func (s Spec) Factory(log logx.Logger) func() job.Job {
	return func() job.Job { return New(s, log) }
}

// Job runs Spec.Command once. Output lines are recorded as messages and the
// exit code as the result.
type Job struct {
	*job.Base
	spec Spec
	log  logx.Logger
}

func New(spec Spec, log logx.Logger) *Job {
	spec.Name = strings.TrimSpace(spec.Name)
	return &Job{
		Base: job.NewBase(spec.Name),
		spec: spec,
		log:  log.Component("command").With(logx.String("job", spec.Name)),
	}
}

func (j *Job) Spec() Spec { return j.spec }

// Run executes the command and maps the outcome to a status:
// MISSING_PARAM for an empty command, FAIL_INIT when it cannot be parsed or
// started, DATA_NOT_FOUND when the program does not exist, CANCEL when ctx
// ends first, ERROR on a non-zero exit and OK otherwise.
func (j *Job) Run(ctx context.Context) error {
	j.MarkStarted()
	j.SetStatus(job.StatusPending)
	j.SetPercent(0)

	raw := strings.TrimSpace(j.spec.Command)
	if raw == "" {
		j.Finish(job.StatusMissingParam, nil)
		return fmt.Errorf("job %q: %w", j.Key(), ErrMissingCommand)
	}
	argv, err := shellquote.Split(raw)
	if err != nil || len(argv) == 0 {
		if err == nil {
			err = ErrMissingCommand
		}
		j.Finish(job.StatusFailInit, nil)
		return fmt.Errorf("job %q: parse command: %w", j.Key(), err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = j.spec.Dir
	if len(j.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), j.spec.Env...)
	}
	cmd.WaitDelay = waitDelay
	out := &lineWriter{base: j.Base, stream: "stdout"}
	errOut := &lineWriter{base: j.Base, stream: "stderr"}
	cmd.Stdout = out
	cmd.Stderr = errOut

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			j.Finish(job.StatusDataNotFound, nil)
		} else {
			j.Finish(job.StatusFailInit, nil)
		}
		return fmt.Errorf("job %q: start: %w", j.Key(), err)
	}
	j.log.Debug("command started", logx.Int("pid", cmd.Process.Pid), logx.String("argv0", argv[0]))

	runErr := cmd.Wait()
	out.flush()
	errOut.flush()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		j.Finish(job.StatusCancel, code)
		return fmt.Errorf("job %q: %w", j.Key(), context.Cause(ctx))
	}
	if runErr != nil {
		j.Finish(job.StatusError, code)
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return fmt.Errorf("job %q: exit status %d", j.Key(), code)
		}
		return fmt.Errorf("job %q: %w", j.Key(), runErr)
	}

	j.SetPercent(100)
	j.Finish(job.StatusOK, code)
	return nil
}

// ExitCode returns the recorded exit code, or -1 before the process exits.
func (j *Job) ExitCode() int {
	if code, ok := j.Result().(int); ok {
		return code
	}
	return -1
}

// lineWriter turns a byte stream into job messages, one per line. Once the
// message cap is reached further output is discarded.
type lineWriter struct {
	base   *job.Base
	stream string

	mu      sync.Mutex
	partial []byte
	// skip drops the remainder of a line already emitted truncated.
	skip bool
	full bool
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(p)
	for len(p) > 0 && !w.full {
		i := bytes.IndexByte(p, '\n')
		chunk := p
		if i >= 0 {
			chunk = p[:i]
		}
		if !w.skip {
			if room := maxLineBytes - len(w.partial); len(chunk) > room {
				w.partial = append(w.partial, chunk[:room]...)
				w.emit(w.partial, true)
				w.partial = w.partial[:0]
				w.skip = true
			} else {
				w.partial = append(w.partial, chunk...)
			}
		}
		if i < 0 {
			break
		}
		if !w.skip {
			w.emit(w.partial, false)
		}
		w.partial = w.partial[:0]
		w.skip = false
		p = p[i+1:]
	}
	if w.full {
		w.partial = nil
	}
	return n, nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 && !w.skip {
		w.emit(w.partial, false)
	}
	w.partial = nil
	w.skip = false
}

func (w *lineWriter) emit(line []byte, truncated bool) {
	if w.full || len(w.base.Messages()) >= maxMessages {
		w.full = true
		return
	}
	s := strings.TrimRight(string(line), "\r")
	if s == "" {
		return
	}
	if truncated {
		w.base.AddMessage("%s: %s [truncated]", w.stream, s)
	} else {
		w.base.AddMessage("%s: %s", w.stream, s)
	}
	if len(w.base.Messages()) >= maxMessages {
		w.full = true
	}
}
