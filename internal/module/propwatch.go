package module

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/dvdsk/rwaybar/internal/format"
)

// PropertyWatch mirrors one D-Bus property into a module value. The value
// updates push-style from PropertiesChanged signals, seeded by a
// synchronous Get when the watch starts. A lost bus connection degrades the
// module and reconnects on backoff.
type PropertyWatch struct {
	key       string
	service   string
	path      dbus.ObjectPath
	iface     string
	property  string
	logger    *slog.Logger

	// connect is swapped out in tests.
	connect func() (busConn, error)
	backoff *Backoff

	stopCh chan struct{}
	doneCh chan struct{}
}

// busConn is the slice of dbus.Conn the watch needs; tests substitute a
// fake.
type busConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// NewPropertyWatch creates a property watch module.
func NewPropertyWatch(key, service, path, iface, property string, logger *slog.Logger) *PropertyWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &PropertyWatch{
		key:      key,
		service:  service,
		path:     dbus.ObjectPath(path),
		iface:    iface,
		property: property,
		logger:   logger,
		connect: func() (busConn, error) {
			return dbus.SessionBus()
		},
		backoff: NewBackoff(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (p *PropertyWatch) Key() string { return p.key }

func (p *PropertyWatch) Kind() Kind { return KindPropertyWatch }

// Start connects, fetches the initial value, then watches for change
// signals.
func (p *PropertyWatch) Start(ctx context.Context, n Notifier) error {
	go p.run(ctx, n)
	return nil
}

func (p *PropertyWatch) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

func (p *PropertyWatch) run(ctx context.Context, n Notifier) {
	defer close(p.doneCh)

	for {
		err := p.watchOnce(ctx, n)
		if ctx.Err() != nil || stopped(p.stopCh) {
			return
		}
		p.logger.Warn("property watch lost", "module", p.key, "service", p.service, "error", err)
		n.Notify(Wakeup{Key: p.key, Err: err})

		delay := p.backoff.Next()
		if !sleepCtx(ctx, delay) {
			return
		}
		if stopped(p.stopCh) {
			return
		}
	}
}

// watchOnce runs one bus session: initial fetch plus the signal loop. It
// returns when the connection drops or the module stops.
func (p *PropertyWatch) watchOnce(ctx context.Context, n Notifier) error {
	conn, err := p.connect()
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	// Initial synchronous fetch so the bar never renders a blank slot
	// while waiting for the first change signal.
	variant, err := conn.Object(p.service, p.path).GetProperty(p.iface + "." + p.property)
	if err != nil {
		return fmt.Errorf("get %s.%s: %w", p.iface, p.property, err)
	}
	n.Notify(Wakeup{Key: p.key, Value: variantValue(variant)})
	p.backoff.Reset()

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(p.path),
		dbus.WithMatchSender(p.service),
	); err != nil {
		return fmt.Errorf("add match: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bus connection closed")
			}
			if v, ok := changedProperty(sig, p.iface, p.property); ok {
				n.Notify(Wakeup{Key: p.key, Value: variantValue(v)})
			}
		}
	}
}

// changedProperty extracts the watched property from a PropertiesChanged
// signal body, if present.
func changedProperty(sig *dbus.Signal, iface, property string) (dbus.Variant, bool) {
	// PropertiesChanged(interface, changed, invalidated)
	if len(sig.Body) < 2 {
		return dbus.Variant{}, false
	}
	sigIface, ok := sig.Body[0].(string)
	if !ok || sigIface != iface {
		return dbus.Variant{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return dbus.Variant{}, false
	}
	v, ok := changed[property]
	return v, ok
}

// variantValue converts a D-Bus variant to a module value. Scalars map to
// the matching kind; anything else renders through fmt.
func variantValue(v dbus.Variant) format.Value {
	switch val := v.Value().(type) {
	case string:
		return format.Text(val)
	case bool:
		return format.Boolean(val)
	case float64:
		return format.Number(val)
	case int16:
		return format.Number(float64(val))
	case int32:
		return format.Number(float64(val))
	case int64:
		return format.Number(float64(val))
	case uint16:
		return format.Number(float64(val))
	case uint32:
		return format.Number(float64(val))
	case uint64:
		return format.Number(float64(val))
	case byte:
		return format.Number(float64(val))
	default:
		return format.Text(fmt.Sprint(val))
	}
}

func stopped(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
