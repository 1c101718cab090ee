package watcher

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const nameOwnerChanged = "org.freedesktop.DBus.NameOwnerChanged"

// Monitor watches the bus for the disappearance of registered names and
// reports each one through the OnNameLost callback. Watches are scoped with
// per-name match rules; the bus daemon only forwards NameOwnerChanged for
// names the broker actually tracks.
type Monitor struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	watched map[string]struct{}
	lost    func(busName string)
	log     zerolog.Logger
}

func NewMonitor(conn *dbus.Conn, log zerolog.Logger) *Monitor {
	return &Monitor{
		conn:    conn,
		signals: make(chan *dbus.Signal, queueDepth),
		watched: make(map[string]struct{}),
		lost:    func(string) {},
		log:     log,
	}
}

// OnNameLost sets the callback invoked for every watched name whose owner
// becomes empty. Must be set before Serve starts.
func (m *Monitor) OnNameLost(fn func(busName string)) {
	m.lost = fn
}

// Watch subscribes to owner changes of busName. Called by the broker when a
// name gains its first registry entry.
func (m *Monitor) Watch(busName string) {
	if _, ok := m.watched[busName]; ok {
		return
	}

	err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, busName),
	)
	if err != nil {
		m.log.Warn().Err(err).Str("name", busName).Msg("failed to add name watch")
		return
	}

	m.watched[busName] = struct{}{}
}

// Unwatch drops the owner-change subscription for busName. Called by the
// broker when a name's last registry entry is gone, so watches do not pile up
// over the life of the session.
func (m *Monitor) Unwatch(busName string) {
	if _, ok := m.watched[busName]; !ok {
		return
	}

	err := m.conn.RemoveMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, busName),
	)
	if err != nil {
		m.log.Warn().Err(err).Str("name", busName).Msg("failed to remove name watch")
	}

	delete(m.watched, busName)
}

// Serve consumes bus signals until ctx is cancelled. Closure of the signal
// channel means the bus connection itself is gone, which is fatal for the
// whole broker. It implements suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	m.conn.Signal(m.signals)
	defer m.conn.RemoveSignal(m.signals)

	for {
		select {
		case sig, ok := <-m.signals:
			if !ok {
				m.log.Error().Msg("session bus connection lost")
				return fatal(ErrTransportLost)
			}
			m.handle(sig)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Monitor) handle(sig *dbus.Signal) {
	if sig.Name != nameOwnerChanged || len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok {
		return
	}

	newOwner, ok := sig.Body[2].(string)
	if !ok || newOwner != "" {
		return
	}

	m.log.Debug().Str("name", name).Msg("name owner gone")
	m.lost(name)
}
