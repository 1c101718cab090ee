// Package host implements the StatusNotifierHost side of the protocol: a
// panel process that registers with the watcher and tracks the set of
// published tray items. It deliberately tracks item identities only; fetching
// icons, tooltips and menus is the renderer's business.
package host

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/panelkit/traywatcher/internal/registry"
	"github.com/panelkit/traywatcher/internal/watcher"
)

// Client is a registered StatusNotifierHost. It seeds its view from the
// watcher's RegisteredStatusNotifierItems snapshot and then follows the
// incremental registration signals. Reading the snapshot first is mandatory:
// the watcher never replays past signals for late joiners.
type Client struct {
	name    string
	conn    *dbus.Conn
	items   *registry.Registry[registry.ItemKey, string]
	signals chan *dbus.Signal
	log     zerolog.Logger

	mu             sync.Mutex
	closed         bool
	onRegistered   func(service string)
	onUnregistered func(service string)
}

// New returns an unregistered host client. The host name carries the PID plus
// a random suffix so several hosts in one session never collide.
func New(conn *dbus.Conn, log zerolog.Logger) *Client {
	return &Client{
		name:           fmt.Sprintf("org.kde.StatusNotifierHost-%d-%s", os.Getpid(), uuid.NewString()[:8]),
		conn:           conn,
		items:          registry.NewItems(),
		signals:        make(chan *dbus.Signal, 64),
		log:            log,
		onRegistered:   func(string) {},
		onUnregistered: func(string) {},
	}
}

// Name returns the host's own well-known name.
func (c *Client) Name() string {
	return c.name
}

// OnRegistered sets the callback invoked once per item that appears. Set it
// before Listen.
func (c *Client) OnRegistered(fn func(service string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRegistered = fn
}

// OnUnregistered sets the callback invoked once per item that disappears. Set
// it before Listen.
func (c *Client) OnUnregistered(fn func(service string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnregistered = fn
}

// Listen requests the host's name, registers it with the watcher, subscribes
// to registration signals and seeds the item set from the current snapshot.
func (c *Client) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("listen: host is closed")
	}

	reply, err := c.conn.RequestName(c.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", c.name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("listen: name %s already taken", c.name)
	}

	call := c.conn.Object(watcher.WatcherInterface, watcher.WatcherPath).
		Call(watcher.WatcherInterface+".RegisterStatusNotifierHost", 0, c.name)
	if call.Err != nil {
		return fmt.Errorf("listen: failed to register host: %w", call.Err)
	}

	if err := c.subscribe(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	c.seed()

	return nil
}

// Close releases the host name and unsubscribes from signals. The client
// cannot be reused after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if _, err := c.conn.ReleaseName(c.name); err != nil {
		return err
	}

	if err := c.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(watcher.WatcherInterface),
		dbus.WithMatchMember("StatusNotifierItemRegistered"),
	); err != nil {
		return err
	}

	if err := c.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(watcher.WatcherInterface),
		dbus.WithMatchMember("StatusNotifierItemUnregistered"),
	); err != nil {
		return err
	}

	c.conn.RemoveSignal(c.signals)
	close(c.signals)
	c.closed = true

	return nil
}

// Items returns the currently known item services in registration order.
func (c *Client) Items() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Snapshot()
}

// seed loads the watcher's current snapshot. Items already seen via signals
// are skipped by the registry's idempotent insert.
func (c *Client) seed() {
	obj := c.conn.Object(watcher.WatcherInterface, watcher.WatcherPath)

	property, err := obj.GetProperty(watcher.WatcherInterface + ".RegisteredStatusNotifierItems")
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to read item snapshot")
		return
	}

	var services []string
	if err := property.Store(&services); err != nil {
		c.log.Warn().Err(err).Msg("unexpected snapshot format")
		return
	}

	for _, service := range services {
		c.addItem(service)
	}
}

func (c *Client) subscribe() error {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(watcher.WatcherInterface),
		dbus.WithMatchMember("StatusNotifierItemRegistered"),
	); err != nil {
		return err
	}

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(watcher.WatcherInterface),
		dbus.WithMatchMember("StatusNotifierItemUnregistered"),
	); err != nil {
		return err
	}

	c.conn.Signal(c.signals)

	go func() {
		for sig := range c.signals {
			service, ok := serviceFromSignal(sig)
			if !ok {
				continue
			}

			c.mu.Lock()
			switch sig.Name {
			case watcher.WatcherInterface + ".StatusNotifierItemRegistered":
				c.addItem(service)
			case watcher.WatcherInterface + ".StatusNotifierItemUnregistered":
				c.removeItem(service)
			}
			c.mu.Unlock()
		}
	}()

	return nil
}

// addItem and removeItem run with c.mu held (Listen holds it during seed).

func (c *Client) addItem(service string) {
	outcome, err := c.items.Register(serviceKey(service), service)
	if err != nil || outcome != registry.Inserted {
		return
	}
	c.onRegistered(service)
}

func (c *Client) removeItem(service string) {
	if c.items.Unregister(serviceKey(service)) != registry.Removed {
		return
	}
	c.onUnregistered(service)
}

func serviceFromSignal(sig *dbus.Signal) (string, bool) {
	if len(sig.Body) < 1 {
		return "", false
	}
	service, ok := sig.Body[0].(string)
	return service, ok
}

// serviceKey derives the registry identity from a published service string.
// The watcher publishes either "<name>" (item at the default path) or
// "<name><path>" for items exposed elsewhere on their connection.
func serviceKey(service string) registry.ItemKey {
	busName, path, found := strings.Cut(service, "/")
	if !found {
		return registry.ItemKey{BusName: busName, ObjectPath: watcher.ItemObjectPath}
	}
	return registry.ItemKey{BusName: busName, ObjectPath: "/" + path}
}
