// Package watcher implements the org.kde.StatusNotifierWatcher broker: the
// session-bus object with which tray item publishers and panel hosts
// register, and which reconciles the registry when either side falls off the
// bus.
//
// The package splits into three cooperating parts, all driven by one
// sequential command loop:
//   - [Broker] holds the registries and the registration state machine.
//   - [Service] is the bus-facing object: name ownership, exported methods,
//     properties, introspection, signal emission.
//   - [Monitor] bridges org.freedesktop.DBus.NameOwnerChanged into broker
//     disconnect events.
package watcher

import (
	"errors"

	"github.com/thejerf/suture/v4"
)

const (
	// WatcherInterface is the well-known name and interface of the watcher.
	WatcherInterface = "org.kde.StatusNotifierWatcher"

	// WatcherPath is the object path at which the watcher is exported.
	WatcherPath = "/StatusNotifierWatcher"

	// ItemInterface is the interface implemented by tray item publishers.
	ItemInterface = "org.kde.StatusNotifierItem"

	// ItemObjectPath is the default object path of a published item.
	ItemObjectPath = "/StatusNotifierItem"

	// ProtocolVersion is the fixed value of the ProtocolVersion property.
	ProtocolVersion int32 = 0
)

var (
	// ErrNameTaken means another watcher already owns the well-known bus
	// name. Running a second, inconsistent broker is never acceptable, so
	// this is fatal at startup.
	ErrNameTaken = errors.New("watcher: bus name " + WatcherInterface + " already taken")

	// ErrTransportLost means the session bus connection itself died. No
	// registry state can be served without it; the process exits and the
	// session manager restarts it.
	ErrTransportLost = errors.New("watcher: bus connection lost")
)

// fatal wraps err so that the supervisor tears down the whole service tree
// instead of restarting the failed service.
func fatal(err error) error {
	return &fatalErr{err: err}
}

type fatalErr struct {
	err error
}

func (e *fatalErr) Error() string { return e.err.Error() }

func (e *fatalErr) Unwrap() error { return e.err }

func (e *fatalErr) Is(target error) bool {
	return target == suture.ErrTerminateSupervisorTree
}
