// Package item implements a minimal StatusNotifierItem publisher. It exposes
// the identity surface of an item and registers it with the running watcher;
// it renders nothing itself. Used by the publish debug command and as a
// reference for what third-party publishers send.
package item

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/panelkit/traywatcher/internal/watcher"
)

// Publisher is one publishable tray item on a connection.
type Publisher struct {
	conn  *dbus.Conn
	id    string
	title string
	log   zerolog.Logger
}

// New returns a publisher for an item with the given id and title. An empty
// id gets a generated one.
func New(conn *dbus.Conn, id, title string, log zerolog.Logger) *Publisher {
	if id == "" {
		id = "traywatcher-item-" + uuid.NewString()[:8]
	}
	return &Publisher{
		conn:  conn,
		id:    id,
		title: title,
		log:   log,
	}
}

// ID returns the item identifier.
func (p *Publisher) ID() string {
	return p.id
}

// Publish exports the item object on this connection and registers it with
// the watcher by object path, so the watcher records it under the
// connection's unique name.
func (p *Publisher) Publish() error {
	if err := p.conn.Export(itemObject{}, watcher.ItemObjectPath, watcher.ItemInterface); err != nil {
		return fmt.Errorf("publish: failed to export item: %w", err)
	}

	_, err := prop.Export(p.conn, watcher.ItemObjectPath, prop.Map{
		watcher.ItemInterface: {
			"Id":       {Value: p.id, Writable: false, Emit: prop.EmitFalse},
			"Title":    {Value: p.title, Writable: false, Emit: prop.EmitTrue},
			"Category": {Value: "ApplicationStatus", Writable: false, Emit: prop.EmitFalse},
			"Status":   {Value: "Active", Writable: false, Emit: prop.EmitTrue},
			"IconName": {Value: "application-default-icon", Writable: false, Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		return fmt.Errorf("publish: failed to export item properties: %w", err)
	}

	call := p.conn.Object(watcher.WatcherInterface, watcher.WatcherPath).
		Call(watcher.WatcherInterface+".RegisterStatusNotifierItem", 0, watcher.ItemObjectPath)
	if call.Err != nil {
		return fmt.Errorf("publish: failed to register item: %w", call.Err)
	}

	p.log.Info().Str("id", p.id).Msg("item published")

	return nil
}

// itemObject carries the input methods of the item interface. This publisher
// has no window to raise, so all of them are acknowledged and ignored.
type itemObject struct{}

func (itemObject) Activate(x, y int32) *dbus.Error          { return nil }
func (itemObject) SecondaryActivate(x, y int32) *dbus.Error { return nil }
func (itemObject) ContextMenu(x, y int32) *dbus.Error       { return nil }
func (itemObject) Scroll(delta int32, orientation string) *dbus.Error {
	return nil
}
