package command

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fifosched/internal/job"
	logx "fifosched/pkg/logx"
)

func TestRunStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		status  job.Status
		wantErr bool
		code    int
	}{
		{name: "ok", spec: Spec{Command: "true"}, status: job.StatusOK, code: 0},
		{name: "non-zero exit", spec: Spec{Command: "sh -c 'exit 3'"}, status: job.StatusError, wantErr: true, code: 3},
		{name: "empty", spec: Spec{Command: "   "}, status: job.StatusMissingParam, wantErr: true, code: -1},
		{name: "bad quoting", spec: Spec{Command: `echo "unterminated`}, status: job.StatusFailInit, wantErr: true, code: -1},
		{name: "missing binary", spec: Spec{Command: "definitely-not-a-binary-fifosched"}, status: job.StatusDataNotFound, wantErr: true, code: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.Name = tt.name
			j := New(tt.spec, logx.Nop())
			err := j.Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := j.Status(); got != tt.status {
				t.Fatalf("status = %s, want %s", got, tt.status)
			}
			if got := j.ExitCode(); got != tt.code {
				t.Fatalf("exit code = %d, want %d", got, tt.code)
			}
		})
	}
}

func TestRunCapturesOutputAndEnv(t *testing.T) {
	j := New(Spec{
		Name:    "echo",
		Command: `sh -c 'echo "$GREETING"; echo oops >&2; printf tail'`,
		Env:     []string{"GREETING=hello world"},
	}, logx.Nop())
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := strings.Join(j.Messages(), "|")
	for _, want := range []string{"stdout: hello world", "stderr: oops", "stdout: tail"} {
		if !strings.Contains(msgs, want) {
			t.Fatalf("messages %q missing %q", msgs, want)
		}
	}
	if j.Percent() != 100 {
		t.Fatalf("percent = %d, want 100", j.Percent())
	}
	if j.Key() != "echo" || j.Elapsed() <= 0 {
		t.Fatalf("key=%q elapsed=%v", j.Key(), j.Elapsed())
	}
}

func TestRunHonoursDir(t *testing.T) {
	dir := t.TempDir()
	j := New(Spec{Name: "pwd", Command: "pwd", Dir: dir}, logx.Nop())
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := j.Messages()
	if len(msgs) != 1 || !strings.HasSuffix(msgs[0], dir) {
		t.Fatalf("messages = %v, want pwd %s", msgs, dir)
	}
}

func TestRunCancelled(t *testing.T) {
	cause := errors.New("job timed out")
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel(cause)
	}()

	j := New(Spec{Name: "sleep", Command: "sleep 10"}, logx.Nop())
	start := time.Now()
	err := j.Run(ctx)
	if !errors.Is(err, cause) {
		t.Fatalf("Run err = %v, want cause", err)
	}
	if j.Status() != job.StatusCancel {
		t.Fatalf("status = %s, want CANCEL", j.Status())
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancelled command ran for %v", time.Since(start))
	}
}

func TestFactoryBuildsFreshJobs(t *testing.T) {
	f := Spec{Name: " nightly ", Command: "true"}.Factory(logx.Nop())
	a, b := f(), f()
	if a == b {
		t.Fatalf("factory returned the same job twice")
	}
	if a.Key() != "nightly" || b.Key() != "nightly" {
		t.Fatalf("keys = %q, %q", a.Key(), b.Key())
	}
	if a.(*Job).ID() == b.(*Job).ID() {
		t.Fatalf("run ids collide")
	}
}

func TestLineWriterCapsMessages(t *testing.T) {
	b := job.NewBase("cap")
	w := &lineWriter{base: b, stream: "stdout"}
	for i := 0; i < maxMessages+50; i++ {
		_, _ = w.Write([]byte("line\n"))
	}
	w.flush()
	if got := len(b.Messages()); got != maxMessages {
		t.Fatalf("messages = %d, want %d", got, maxMessages)
	}
}

func TestLineWriterBoundsLongLines(t *testing.T) {
	b := job.NewBase("long")
	w := &lineWriter{base: b, stream: "stdout"}
	chunk := bytes.Repeat([]byte("x"), 16<<10)
	for i := 0; i < 64; i++ {
		_, _ = w.Write(chunk)
		if len(w.partial) > maxLineBytes {
			t.Fatalf("partial grew to %d bytes", len(w.partial))
		}
	}
	_, _ = w.Write([]byte("tail\nnext\n"))
	w.flush()

	msgs := b.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if !strings.HasSuffix(msgs[0], "[truncated]") || len(msgs[0]) > maxLineBytes+64 {
		t.Fatalf("first message not truncated: %d bytes", len(msgs[0]))
	}
	if msgs[1] != "stdout: next" {
		t.Fatalf("second message = %q", msgs[1])
	}
}

func TestLineWriterDiscardsAfterCap(t *testing.T) {
	b := job.NewBase("cap")
	w := &lineWriter{base: b, stream: "stderr"}
	for i := 0; i < maxMessages; i++ {
		_, _ = w.Write([]byte("line\n"))
	}
	n, err := w.Write(bytes.Repeat([]byte("y"), 1<<20))
	if n != 1<<20 || err != nil {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if len(w.partial) != 0 {
		t.Fatalf("partial holds %d bytes after the cap", len(w.partial))
	}
	w.flush()
	if got := len(b.Messages()); got != maxMessages {
		t.Fatalf("messages = %d, want %d", got, maxMessages)
	}
}
