// Package process supervises external engine subprocesses.
//
// A subprocess runs with a hard timeout, its stderr merged into stdout. The
// combined stream is drained on a dedicated goroutine so the child never
// blocks on a full pipe. Kill is idempotent and may race with natural exit.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// ExitCodeNotCompleted is reported when the process never exited on its own.
const ExitCodeNotCompleted = -1

// outputGrace bounds how long the reader may keep draining after the
// process exits, e.g. when a grandchild still holds the pipe open.
const outputGrace = 2 * time.Second

var (
	// ErrTimeout is set on a Result whose process exceeded its timeout.
	ErrTimeout = errors.New("process timed out")
	// ErrKilled is set on a Result whose process was killed by the caller.
	ErrKilled = errors.New("process killed")
)

// Command describes one subprocess invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// String renders the command line for logs and job records.
func (c Command) String() string {
	var b bytes.Buffer
	b.WriteString(c.Path)
	for _, arg := range c.Args {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	return b.String()
}

// Result is the outcome of a finished subprocess.
type Result struct {
	Command  Command
	Started  time.Time
	Stopped  time.Time
	ExitCode int
	Output   string
	TimedOut bool
	Killed   bool
	// Err is set when the process could not be started, was killed,
	// timed out or exited non-zero.
	Err error
}

// Success reports a zero exit status.
func (r *Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Process is a handle to one started subprocess.
type Process struct {
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger

	killed atomic.Bool
	done   chan struct{}

	mx     sync.Mutex
	output bytes.Buffer
	result *Result
}

// Supervisor starts subprocesses. The zero value is not usable; use New.
type Supervisor struct {
	log logger.Logger
}

// New creates a Supervisor.
func New(log logger.Logger) *Supervisor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Supervisor{log: log}
}

// Run starts the command and blocks until it exits, times out or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, command Command) *Result {
	return s.Start(ctx, command).Wait()
}

// Start launches the command and returns immediately. A launch failure
// yields a Process that is already done with Result.Err set.
func (s *Supervisor) Start(ctx context.Context, command Command) *Process {
	p := &Process{
		log:  s.log.With(logger.String("path", command.Path)),
		done: make(chan struct{}),
	}

	if command.Timeout > 0 {
		p.ctx, p.cancel = context.WithTimeout(ctx, command.Timeout)
	} else {
		p.log.Warn("command has no timeout")
		p.ctx, p.cancel = context.WithCancel(ctx)
	}

	started := time.Now().UTC()
	p.result = &Result{Command: command, Started: started, ExitCode: ExitCodeNotCompleted}

	reader, writer, err := os.Pipe()
	if err != nil {
		p.fail(fmt.Errorf("create output pipe: %w", err))
		return p
	}

	p.cmd = exec.CommandContext(p.ctx, command.Path, command.Args...)
	p.cmd.Dir = command.Dir
	if command.Env != nil {
		p.cmd.Env = command.Env
	}
	p.cmd.Stdout = writer
	p.cmd.Stderr = writer

	if err := p.cmd.Start(); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		p.fail(fmt.Errorf("start %s: %w", command.Path, err))
		return p
	}
	// The child holds its own copy of the write end.
	_ = writer.Close()

	p.log.Debug("process started", logger.Int("os_pid", p.cmd.Process.Pid))

	drained := make(chan struct{})
	go p.drain(reader, drained)
	go p.wait(reader, drained)

	return p
}

func (p *Process) fail(err error) {
	p.cancel()
	p.result.Stopped = time.Now().UTC()
	p.result.Err = err
	p.log.Error("process failed to start", logger.Error(err))
	close(p.done)
}

func (p *Process) drain(reader io.Reader, drained chan<- struct{}) {
	defer close(drained)
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			p.mx.Lock()
			p.output.Write(buf[:n])
			p.mx.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) wait(reader *os.File, drained <-chan struct{}) {
	waitErr := p.cmd.Wait()
	ctxErr := p.ctx.Err()
	p.cancel()

	timer := time.NewTimer(outputGrace)
	select {
	case <-drained:
		timer.Stop()
	case <-timer.C:
		// Something still holds the write end; closing our side unblocks the reader.
		_ = reader.Close()
		<-drained
	}
	_ = reader.Close()

	p.mx.Lock()
	defer p.mx.Unlock()

	res := p.result
	res.Stopped = time.Now().UTC()
	res.Output = p.output.String()

	state := p.cmd.ProcessState
	switch {
	case state != nil && state.Exited():
		// Natural exit wins even if a kill or timeout raced with it.
		res.ExitCode = state.ExitCode()
		if res.ExitCode != 0 {
			res.Err = fmt.Errorf("exit status %d", res.ExitCode)
		}
	case p.killed.Load():
		res.Killed = true
		res.Err = ErrKilled
	case errors.Is(ctxErr, context.DeadlineExceeded):
		res.TimedOut = true
		res.Err = fmt.Errorf("%w after %s", ErrTimeout, res.Command.Timeout)
	case ctxErr != nil:
		res.Killed = true
		res.Err = fmt.Errorf("%w: %w", ErrKilled, ctxErr)
	default:
		res.Err = waitErr
	}

	p.log.Debug("process finished",
		logger.Int("exit_code", res.ExitCode),
		logger.Duration("duration", res.Stopped.Sub(res.Started)),
		logger.Bool("timed_out", res.TimedOut),
		logger.Bool("killed", res.Killed),
	)
	close(p.done)
}

// Kill terminates the process. Calling it more than once, or after the
// process has exited, is a no-op.
func (p *Process) Kill() {
	select {
	case <-p.done:
		return
	default:
	}
	if p.killed.CompareAndSwap(false, true) {
		p.log.Info("killing process")
	}
	p.cancel()
}

// Done reports whether the process has finished and its Result is final.
func (p *Process) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process finishes and returns its Result.
func (p *Process) Wait() *Result {
	<-p.done
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.result
}

// ExitCode returns the exit status, or ExitCodeNotCompleted while running
// and when the process was killed or timed out.
func (p *Process) ExitCode() int {
	if !p.Done() {
		return ExitCodeNotCompleted
	}
	return p.Wait().ExitCode
}

// Output returns the output captured so far.
func (p *Process) Output() string {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.Done() && p.result.Output != "" {
		return p.result.Output
	}
	return p.output.String()
}
