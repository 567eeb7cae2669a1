package module

import (
	"bufio"
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/dvdsk/rwaybar/internal/format"
)

// Subprocess runs an external command and exposes its latest stdout line as
// the module value. When the command exits it is respawned with exponential
// backoff so a crashing command cannot turn into a tight relaunch storm.
type Subprocess struct {
	key     string
	command string
	args    []string
	logger  *slog.Logger

	backoff *Backoff
	// sleep is swapped out in tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSubprocess creates a subprocess module for the given command line.
func NewSubprocess(key, command string, args []string, logger *slog.Logger) *Subprocess {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subprocess{
		key:     key,
		command: command,
		args:    args,
		logger:  logger,
		backoff: NewBackoff(),
		sleep:   sleepCtx,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (s *Subprocess) Key() string { return s.key }

func (s *Subprocess) Kind() Kind { return KindSubprocess }

// Start launches the respawn loop.
func (s *Subprocess) Start(ctx context.Context, n Notifier) error {
	go s.run(ctx, n)
	return nil
}

func (s *Subprocess) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func (s *Subprocess) run(ctx context.Context, n Notifier) {
	defer close(s.doneCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		started := time.Now()
		err := s.runOnce(runCtx, n)
		if runCtx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("command failed", "module", s.key, "command", s.command, "error", err)
			n.Notify(Wakeup{Key: s.key, Err: err})
		}

		if s.backoff.Sustained(time.Since(started)) {
			s.backoff.Reset()
		}
		delay := s.backoff.Next()
		s.logger.Debug("respawning command", "module", s.key, "delay", delay)
		if !s.sleep(runCtx, delay) {
			return
		}
	}
}

// runOnce spawns the command and forwards stdout lines until it exits.
func (s *Subprocess) runOnce(ctx context.Context, n Notifier) error {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		n.Notify(Wakeup{Key: s.key, Value: format.Text(scanner.Text())})
	}
	return cmd.Wait()
}

// sleepCtx waits for d on a monotonic timer; false means the context ended
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
