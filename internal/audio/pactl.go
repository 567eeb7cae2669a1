package audio

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// PactlClient talks to PulseAudio (or PipeWire's replacement) through the
// pactl command line tool: one long-lived `pactl subscribe` stream for
// change events, point queries for the current state.
type PactlClient struct {
	logger *slog.Logger
	sink   string
}

// NewPactlClient creates a client for the given sink; empty means the
// default sink.
func NewPactlClient(sink string, logger *slog.Logger) *PactlClient {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == "" {
		sink = "@DEFAULT_SINK@"
	}
	return &PactlClient{logger: logger, sink: sink}
}

// Watch implements Client.
func (c *PactlClient) Watch(ctx context.Context, fn func(State)) error {
	state, err := c.query(ctx)
	if err != nil {
		return err
	}
	fn(state)

	cmd := exec.CommandContext(ctx, "pactl", "subscribe")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pactl subscribe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pactl subscribe: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		// Event lines look like: "Event 'change' on sink #56"
		if !strings.Contains(line, "on sink") && !strings.Contains(line, "on server") {
			continue
		}
		state, err := c.query(ctx)
		if err != nil {
			c.logger.Debug("volume query failed", "error", err)
			continue
		}
		fn(state)
	}
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("pactl subscribe exited: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("pactl subscribe stream ended")
}

// query reads the sink's current volume and mute flag.
func (c *PactlClient) query(ctx context.Context) (State, error) {
	vol, err := exec.CommandContext(ctx, "pactl", "get-sink-volume", c.sink).Output()
	if err != nil {
		return State{}, fmt.Errorf("get-sink-volume: %w", err)
	}
	mute, err := exec.CommandContext(ctx, "pactl", "get-sink-mute", c.sink).Output()
	if err != nil {
		return State{}, fmt.Errorf("get-sink-mute: %w", err)
	}

	level, err := ParseVolume(string(vol))
	if err != nil {
		return State{}, err
	}
	return State{Level: level, Muted: ParseMute(string(mute))}, nil
}

// ParseVolume extracts the first percentage from pactl get-sink-volume
// output, e.g. "Volume: front-left: 39321 / 60% / -13.3 dB ...".
func ParseVolume(out string) (int, error) {
	for _, field := range strings.Fields(out) {
		if !strings.HasSuffix(field, "%") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(field, "%"))
		if err != nil {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("no volume percentage in %q", strings.TrimSpace(out))
}

// ParseMute extracts the flag from pactl get-sink-mute output
// ("Mute: yes").
func ParseMute(out string) bool {
	return strings.Contains(out, "yes")
}
