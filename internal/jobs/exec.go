package jobs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"schedkit/internal/config"
	"schedkit/internal/task/handle"
	logx "schedkit/pkg/logx"
)

const (
	outputTail = 2048
	// waitDelay bounds how long a cancelled command may hold its pipes.
	waitDelay = 5 * time.Second
)

func execWork(j config.JobConfig, log logx.Logger) handle.Work {
	name := strings.TrimSpace(j.Command)
	args := append([]string(nil), j.Args...)
	dir := strings.TrimSpace(j.Dir)
	env := append([]string(nil), j.Env...)

	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Dir = dir
		if len(env) > 0 {
			cmd.Env = append(os.Environ(), env...)
		}
		cmd.WaitDelay = waitDelay
		out := &tailBuffer{max: outputTail}
		cmd.Stdout = out
		cmd.Stderr = out

		start := time.Now()
		err := cmd.Run()
		took := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w (%v)", ctx.Err(), err)
			}
			if tail := out.String(); tail != "" {
				return fmt.Errorf("%s: %w: %s", name, err, tail)
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Debug("command finished", logx.String("cmd", name), logx.Duration("took", took), logx.Int("exit", exitCode(cmd)))
		return nil
	}
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
	cut bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.cut = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(string(b.buf))
	if b.cut && s != "" {
		return "..." + s
	}
	return s
}
