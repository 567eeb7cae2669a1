package module

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dvdsk/rwaybar/internal/audio"
	"github.com/dvdsk/rwaybar/internal/format"
)

// Volume exposes the audio server's (level, muted) pair as a module value.
// A dropped audio connection degrades the module to an error state and
// reconnects on backoff.
type Volume struct {
	key    string
	client audio.Client
	logger *slog.Logger

	backoff *Backoff

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewVolume creates a volume module backed by the given audio client.
func NewVolume(key string, client audio.Client, logger *slog.Logger) *Volume {
	if logger == nil {
		logger = slog.Default()
	}
	return &Volume{
		key:     key,
		client:  client,
		logger:  logger,
		backoff: NewBackoff(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (v *Volume) Key() string { return v.key }

func (v *Volume) Kind() Kind { return KindVolume }

// Start launches the watch/reconnect loop.
func (v *Volume) Start(ctx context.Context, n Notifier) error {
	go v.run(ctx, n)
	return nil
}

func (v *Volume) Stop() {
	select {
	case <-v.stopCh:
	default:
		close(v.stopCh)
	}
	<-v.doneCh
}

func (v *Volume) run(ctx context.Context, n Notifier) {
	defer close(v.doneCh)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-v.stopCh:
			cancel()
		case <-watchCtx.Done():
		}
	}()

	for {
		started := time.Now()
		err := v.client.Watch(watchCtx, func(s audio.State) {
			n.Notify(Wakeup{Key: v.key, Value: volumeValue(s)})
		})
		if watchCtx.Err() != nil {
			return
		}
		v.logger.Warn("audio connection lost", "module", v.key, "error", err)
		n.Notify(Wakeup{Key: v.key, Err: err})

		if v.backoff.Sustained(time.Since(started)) {
			v.backoff.Reset()
		}
		if !sleepCtx(watchCtx, v.backoff.Next()) {
			return
		}
	}
}

// volumeValue builds the record for a sink state.
func volumeValue(s audio.State) format.Value {
	text := strconv.Itoa(s.Level) + "%"
	if s.Muted {
		text = "muted"
	}
	return format.Record(map[string]string{
		"text":  text,
		"level": strconv.Itoa(s.Level),
		"muted": strconv.FormatBool(s.Muted),
	})
}
