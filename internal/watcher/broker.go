package watcher

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/panelkit/traywatcher/internal/registry"
)

// Emitter receives the bus-visible side effects of registry changes: the
// org.kde.StatusNotifierWatcher signals and property updates. The broker
// invokes it synchronously with each mutation, so a change and its
// announcement form one step from an external observer's perspective.
type Emitter interface {
	ItemRegistered(service string)
	ItemUnregistered(service string)
	HostRegistered()
	HostUnregistered()
	ItemsChanged(services []string)
	HostPresenceChanged(present bool)
}

// NameTracker manages per-name disconnect watches on the bus. Watches exist
// only for names that own at least one registry entry.
type NameTracker interface {
	Watch(busName string)
	Unwatch(busName string)
}

// Broker is the watcher's state machine. It owns the item and host registries
// and translates registration calls and disconnect events into registry
// mutations plus emitted signals. It is not safe for concurrent use; the
// service feeds it from a single command loop.
type Broker struct {
	items   *registry.Registry[registry.ItemKey, string]
	hosts   *registry.Registry[registry.HostKey, string]
	emitter Emitter
	names   NameTracker
	log     zerolog.Logger
}

func NewBroker(emitter Emitter, names NameTracker, log zerolog.Logger) *Broker {
	return &Broker{
		items:   registry.NewItems(),
		hosts:   registry.NewHosts(),
		emitter: emitter,
		names:   names,
		log:     log,
	}
}

// RegisterItem registers the tray item identified by service, as sent by the
// connection sender. An empty service falls back to the sender's own
// identity; a service of the form "/path" names an object on the sender's
// connection and is published as "<sender><path>". Duplicate registration
// succeeds without emitting anything.
func (b *Broker) RegisterItem(service, sender string) error {
	key, wire := itemIdentity(service, sender)

	tracked := b.tracked(key.BusName)

	outcome, err := b.items.Register(key, wire)
	if err != nil {
		return err
	}
	if outcome != registry.Inserted {
		b.log.Debug().Str("service", wire).Msg("duplicate item registration ignored")
		return nil
	}

	if !tracked {
		b.names.Watch(key.BusName)
	}

	b.log.Info().Str("service", wire).Str("sender", sender).Msg("item registered")
	b.emitter.ItemRegistered(wire)
	b.emitter.ItemsChanged(b.Items())

	return nil
}

// RegisterHost registers a panel host by its bus name. The first host to
// arrive flips the host-present flag, which is announced so that items
// waiting for a host to exist can start publishing.
func (b *Broker) RegisterHost(service, sender string) error {
	name := service
	if name == "" {
		name = sender
	}
	key := registry.HostKey{BusName: name}

	tracked := b.tracked(key.BusName)

	outcome, err := b.hosts.Register(key, name)
	if err != nil {
		return err
	}
	if outcome != registry.Inserted {
		b.log.Debug().Str("host", name).Msg("duplicate host registration ignored")
		return nil
	}

	if !tracked {
		b.names.Watch(key.BusName)
	}

	b.log.Info().Str("host", name).Msg("host registered")
	if b.hosts.Len() == 1 {
		b.emitter.HostRegistered()
		b.emitter.HostPresenceChanged(true)
	}

	return nil
}

// NameLost removes every item and host owned by busName. It is called by the
// monitor when the name's owner disappears from the bus, and handles graceful
// and crashed exits alike.
func (b *Broker) NameLost(busName string) {
	removedItems := b.items.RemoveAllFor(busName)
	removedHosts := b.hosts.RemoveAllFor(busName)

	if len(removedItems) == 0 && len(removedHosts) == 0 {
		return
	}

	b.names.Unwatch(busName)

	for _, service := range removedItems {
		b.log.Info().Str("service", service).Msg("item unregistered")
		b.emitter.ItemUnregistered(service)
	}
	if len(removedItems) > 0 {
		b.emitter.ItemsChanged(b.Items())
	}

	if len(removedHosts) > 0 {
		b.log.Info().Str("host", busName).Msg("host unregistered")
		if b.hosts.Len() == 0 {
			b.emitter.HostUnregistered()
			b.emitter.HostPresenceChanged(false)
		}
	}
}

// Items returns the wire representation of all registered items in
// registration order.
func (b *Broker) Items() []string {
	return b.items.Snapshot()
}

// HostPresent reports whether at least one host is registered.
func (b *Broker) HostPresent() bool {
	return b.hosts.Len() > 0
}

func (b *Broker) tracked(busName string) bool {
	return b.items.Owns(busName) || b.hosts.Owns(busName)
}

// itemIdentity resolves the registry key and the published service string
// from a register call. Publishers pass either a bus name, an object path on
// their own connection, or nothing at all; the latter two resolve against the
// sender.
func itemIdentity(service, sender string) (registry.ItemKey, string) {
	switch {
	case service == "":
		return registry.ItemKey{BusName: sender, ObjectPath: ItemObjectPath}, sender
	case strings.HasPrefix(service, "/"):
		return registry.ItemKey{BusName: sender, ObjectPath: service}, sender + service
	default:
		return registry.ItemKey{BusName: service, ObjectPath: ItemObjectPath}, service
	}
}
