package process_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/process"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shell(script string, timeout time.Duration) process.Command {
	return process.Command{Path: "/bin/sh", Args: []string{"-c", script}, Timeout: timeout}
}

func TestRun_CapturesCombinedOutput(t *testing.T) {
	t.Parallel()

	sup := process.New(logger.NewNop())
	res := sup.Run(context.Background(), shell("echo out; echo err 1>&2", 5*time.Second))

	require.NoError(t, res.Err)
	assert.True(t, res.Success())
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
	assert.False(t, res.Stopped.Before(res.Started))
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()

	res := process.New(nil).Run(context.Background(), shell("echo failing; exit 3", 5*time.Second))

	assert.Equal(t, 3, res.ExitCode)
	assert.Error(t, res.Err)
	assert.False(t, res.Success())
	assert.Contains(t, res.Output, "failing")
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	start := time.Now()
	proc := process.New(nil).Start(context.Background(), shell("echo before; sleep 30", 200*time.Millisecond))
	res := proc.Wait()

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, proc.Done())
	assert.True(t, res.TimedOut)
	assert.ErrorIs(t, res.Err, process.ErrTimeout)
	assert.Equal(t, process.ExitCodeNotCompleted, res.ExitCode)
	assert.Equal(t, process.ExitCodeNotCompleted, proc.ExitCode())
	assert.Contains(t, res.Output, "before")
}

func TestStart_LaunchFailureIsResult(t *testing.T) {
	t.Parallel()

	proc := process.New(nil).Start(context.Background(), process.Command{Path: "/nonexistent/engine", Timeout: time.Second})

	assert.True(t, proc.Done())
	res := proc.Wait()
	assert.Error(t, res.Err)
	assert.Equal(t, process.ExitCodeNotCompleted, res.ExitCode)

	proc.Kill()
}

func TestKill_IsIdempotentAndConcurrent(t *testing.T) {
	t.Parallel()

	proc := process.New(nil).Start(context.Background(), shell("sleep 30", time.Minute))
	assert.False(t, proc.Done())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			proc.Kill()
		}()
	}
	wg.Wait()

	res := proc.Wait()
	assert.True(t, res.Killed)
	assert.ErrorIs(t, res.Err, process.ErrKilled)
	assert.Equal(t, process.ExitCodeNotCompleted, res.ExitCode)

	proc.Kill()
}

func TestKill_RacingNaturalCompletion(t *testing.T) {
	t.Parallel()

	sup := process.New(nil)
	for range 20 {
		proc := sup.Start(context.Background(), shell("exit 0", time.Second))
		go proc.Kill()
		res := proc.Wait()
		assert.True(t, proc.Done())
		if !res.Killed {
			assert.Equal(t, 0, res.ExitCode)
		}
	}
}

func TestRun_ParentContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	proc := process.New(nil).Start(ctx, shell("sleep 30", time.Minute))
	cancel()

	res := proc.Wait()
	assert.True(t, res.Killed)
	assert.ErrorIs(t, res.Err, process.ErrKilled)
}

func TestCommandString(t *testing.T) {
	t.Parallel()

	cmd := process.Command{Path: "python3", Args: []string{"engine.py", "-i", "a.jpg"}}
	assert.Equal(t, "python3 engine.py -i a.jpg", cmd.String())
}
