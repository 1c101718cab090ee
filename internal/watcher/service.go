package watcher

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/panelkit/traywatcher/internal/registry"
)

// Service is the bus-facing side of the watcher. It owns the well-known
// name, exports the registration methods, properties and introspection data,
// and emits the watcher signals produced by the broker.
type Service struct {
	conn    *dbus.Conn
	broker  *Broker
	monitor *Monitor
	queue   *queue
	props   *prop.Properties
	log     zerolog.Logger
}

func New(conn *dbus.Conn, log zerolog.Logger) *Service {
	s := &Service{
		conn:  conn,
		queue: newQueue(),
		log:   log,
	}

	s.monitor = NewMonitor(conn, log.With().Str("component", "monitor").Logger())
	s.broker = NewBroker(s, s.monitor, log)
	s.monitor.OnNameLost(func(busName string) {
		s.queue.Post(func() { s.broker.NameLost(busName) })
	})

	return s
}

// Listen acquires the org.kde.StatusNotifierWatcher name and exports the
// watcher object. Failure to become the primary owner means another broker
// instance is running; that returns ErrNameTaken and the caller must treat
// it as fatal rather than run a duplicate.
func (s *Service) Listen() error {
	reply, err := s.conn.RequestName(WatcherInterface, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", WatcherInterface, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrNameTaken
	}

	if err := s.conn.Export(watcherObject{svc: s}, WatcherPath, WatcherInterface); err != nil {
		return fmt.Errorf("listen: failed to export %s: %w", WatcherInterface, err)
	}

	s.props, err = prop.Export(s.conn, WatcherPath, prop.Map{
		WatcherInterface: {
			"RegisteredStatusNotifierItems": {
				Value:    []string{},
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"IsStatusNotifierHostRegistered": {
				Value:    false,
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"ProtocolVersion": {
				Value:    ProtocolVersion,
				Writable: false,
				Emit:     prop.EmitFalse,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("listen: failed to export properties: %w", err)
	}

	if err := s.exportIntrospection(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.log.Info().Str("name", WatcherInterface).Msg("watcher listening")

	return nil
}

// Close releases the well-known name. The service cannot be reused after.
func (s *Service) Close() error {
	_, err := s.conn.ReleaseName(WatcherInterface)
	return err
}

// Services returns the long-running parts of the watcher, in the order they
// should be added to a supervisor: the command loop first, then the monitor
// feeding it.
func (s *Service) Services() []suture.Service {
	return []suture.Service{s.queue, s.monitor}
}

func (s *Service) exportIntrospection() error {
	node := &introspect.Node{
		Name: WatcherPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: WatcherInterface,
				Methods: []introspect.Method{
					{
						Name: "RegisterStatusNotifierItem",
						Args: []introspect.Arg{{Name: "service", Type: "s", Direction: "in"}},
					},
					{
						Name: "RegisterStatusNotifierHost",
						Args: []introspect.Arg{{Name: "service", Type: "s", Direction: "in"}},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "StatusNotifierItemRegistered",
						Args: []introspect.Arg{{Name: "service", Type: "s"}},
					},
					{
						Name: "StatusNotifierItemUnregistered",
						Args: []introspect.Arg{{Name: "service", Type: "s"}},
					},
					{Name: "StatusNotifierHostRegistered"},
					{Name: "StatusNotifierHostUnregistered"},
				},
				Properties: []introspect.Property{
					{Name: "RegisteredStatusNotifierItems", Type: "as", Access: "read"},
					{Name: "IsStatusNotifierHostRegistered", Type: "b", Access: "read"},
					{Name: "ProtocolVersion", Type: "i", Access: "read"},
				},
			},
		},
	}

	err := s.conn.Export(
		introspect.NewIntrospectable(node),
		WatcherPath,
		"org.freedesktop.DBus.Introspectable",
	)
	if err != nil {
		return fmt.Errorf("failed to export introspection data: %w", err)
	}

	return nil
}

// emit sends a watcher signal. Emission is fire and forget: a slow host
// never blocks registration, and send failures only get logged since the
// monitor detects actual transport loss separately.
func (s *Service) emit(member string, args ...any) {
	if err := s.conn.Emit(WatcherPath, WatcherInterface+"."+member, args...); err != nil {
		s.log.Warn().Err(err).Str("signal", member).Msg("failed to emit signal")
	}
}

func (s *Service) ItemRegistered(service string) {
	s.emit("StatusNotifierItemRegistered", service)
}

func (s *Service) ItemUnregistered(service string) {
	s.emit("StatusNotifierItemUnregistered", service)
}

func (s *Service) HostRegistered() {
	s.emit("StatusNotifierHostRegistered")
}

func (s *Service) HostUnregistered() {
	s.emit("StatusNotifierHostUnregistered")
}

func (s *Service) ItemsChanged(services []string) {
	s.props.SetMust(WatcherInterface, "RegisteredStatusNotifierItems", services)
}

func (s *Service) HostPresenceChanged(present bool) {
	s.props.SetMust(WatcherInterface, "IsStatusNotifierHostRegistered", present)
}

// watcherObject carries the methods exported on the bus. Calls block until
// the command loop has applied the mutation, so the reply to the caller
// reflects the actual outcome.
type watcherObject struct {
	svc *Service
}

func (o watcherObject) RegisterStatusNotifierItem(service string, sender dbus.Sender) *dbus.Error {
	err := o.svc.queue.Do(func() error {
		return o.svc.broker.RegisterItem(service, string(sender))
	})
	return busError(err)
}

func (o watcherObject) RegisterStatusNotifierHost(service string, sender dbus.Sender) *dbus.Error {
	err := o.svc.queue.Do(func() error {
		return o.svc.broker.RegisterHost(service, string(sender))
	})
	return busError(err)
}

func busError(err error) *dbus.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrInvalidIdentifier):
		return dbus.NewError(WatcherInterface+".Error.InvalidIdentifier", []any{err.Error()})
	default:
		return dbus.MakeFailedError(err)
	}
}
