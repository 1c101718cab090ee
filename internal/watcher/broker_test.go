package watcher

import (
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"github.com/panelkit/traywatcher/internal/registry"
)

// recorder captures emitted signals and property updates in order.
type recorder struct {
	events      []string
	items       []string
	hostPresent bool
}

func (r *recorder) ItemRegistered(service string) {
	r.events = append(r.events, "ItemRegistered:"+service)
}

func (r *recorder) ItemUnregistered(service string) {
	r.events = append(r.events, "ItemUnregistered:"+service)
}

func (r *recorder) HostRegistered() {
	r.events = append(r.events, "HostRegistered")
}

func (r *recorder) HostUnregistered() {
	r.events = append(r.events, "HostUnregistered")
}

func (r *recorder) ItemsChanged(services []string) {
	r.items = slices.Clone(services)
}

func (r *recorder) HostPresenceChanged(present bool) {
	r.hostPresent = present
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// tracker records watch bookkeeping.
type tracker struct {
	watched map[string]bool
}

func newTracker() *tracker {
	return &tracker{watched: make(map[string]bool)}
}

func (t *tracker) Watch(busName string)   { t.watched[busName] = true }
func (t *tracker) Unwatch(busName string) { delete(t.watched, busName) }

func newTestBroker() (*Broker, *recorder, *tracker) {
	rec := &recorder{}
	trk := newTracker()
	return NewBroker(rec, trk, zerolog.Nop()), rec, trk
}

func TestRegisterItemEmitsOnce(t *testing.T) {
	b, rec, _ := newTestBroker()

	if err := b.RegisterItem("org.example.app", ":1.10"); err != nil {
		t.Fatal(err)
	}
	if err := b.RegisterItem("org.example.app", ":1.10"); err != nil {
		t.Fatal(err)
	}

	if got := rec.count("ItemRegistered:org.example.app"); got != 1 {
		t.Fatalf("got %d ItemRegistered signals, want exactly 1", got)
	}
	if got := b.Items(); !slices.Equal(got, []string{"org.example.app"}) {
		t.Fatalf("items = %v", got)
	}
}

func TestRegisterItemPathForm(t *testing.T) {
	b, rec, trk := newTestBroker()

	if err := b.RegisterItem("/org/app/Tray", ":1.20"); err != nil {
		t.Fatal(err)
	}

	want := ":1.20/org/app/Tray"
	if got := b.Items(); !slices.Equal(got, []string{want}) {
		t.Fatalf("items = %v, want [%s]", got, want)
	}
	if got := rec.count("ItemRegistered:" + want); got != 1 {
		t.Fatalf("got %d ItemRegistered signals, want 1", got)
	}
	if !trk.watched[":1.20"] {
		t.Fatal("sender connection is not watched")
	}
}

func TestRegisterItemSenderFallback(t *testing.T) {
	b, _, trk := newTestBroker()

	if err := b.RegisterItem("", ":1.30"); err != nil {
		t.Fatal(err)
	}

	if got := b.Items(); !slices.Equal(got, []string{":1.30"}) {
		t.Fatalf("items = %v", got)
	}
	if !trk.watched[":1.30"] {
		t.Fatal("sender connection is not watched")
	}
}

func TestRegisterItemInvalidIdentifier(t *testing.T) {
	b, rec, _ := newTestBroker()

	err := b.RegisterItem("", "")
	if !errors.Is(err, registry.ErrInvalidIdentifier) {
		t.Fatalf("got err %v, want ErrInvalidIdentifier", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("invalid register emitted %v", rec.events)
	}
}

func TestNameLostRemovesOnlyOwnedItems(t *testing.T) {
	b, rec, trk := newTestBroker()

	b.RegisterItem("app.one", ":1.1")
	b.RegisterItem("app.two", ":1.2")

	if got := b.Items(); !slices.Equal(got, []string{"app.one", "app.two"}) {
		t.Fatalf("items = %v", got)
	}

	b.NameLost("app.one")

	if got := b.Items(); !slices.Equal(got, []string{"app.two"}) {
		t.Fatalf("after disconnect items = %v", got)
	}
	if got := rec.count("ItemUnregistered:app.one"); got != 1 {
		t.Fatalf("got %d ItemUnregistered signals, want exactly 1", got)
	}
	if got := rec.count("ItemUnregistered:app.two"); got != 0 {
		t.Fatalf("unrelated item unregistered %d times", got)
	}
	if trk.watched["app.one"] {
		t.Fatal("watch for disconnected name not removed")
	}
	if !trk.watched["app.two"] {
		t.Fatal("watch for surviving name removed")
	}
}

func TestNameLostRemovesAllPathsOfConnection(t *testing.T) {
	b, rec, _ := newTestBroker()

	b.RegisterItem("/First", ":1.5")
	b.RegisterItem("/Second", ":1.5")

	b.NameLost(":1.5")

	if got := b.Items(); len(got) != 0 {
		t.Fatalf("items = %v, want none", got)
	}
	if got := rec.count("ItemUnregistered::1.5/First"); got != 1 {
		t.Fatalf("first path unregistered %d times", got)
	}
	if got := rec.count("ItemUnregistered::1.5/Second"); got != 1 {
		t.Fatalf("second path unregistered %d times", got)
	}
}

func TestNameLostUnknownNameIsNoop(t *testing.T) {
	b, rec, _ := newTestBroker()

	b.RegisterItem("app.one", ":1.1")
	b.NameLost(":1.99")

	if got := b.Items(); !slices.Equal(got, []string{"app.one"}) {
		t.Fatalf("items = %v", got)
	}
	if len(rec.events) != 1 || rec.count("ItemRegistered:app.one") != 1 {
		t.Fatalf("unexpected events %v", rec.events)
	}
}

func TestHostPresenceTransitions(t *testing.T) {
	b, rec, _ := newTestBroker()

	if b.HostPresent() {
		t.Fatal("host present with zero hosts")
	}

	b.RegisterHost("org.kde.StatusNotifierHost-100", ":1.100")
	if !b.HostPresent() || !rec.hostPresent {
		t.Fatal("host flag not set after first registration")
	}
	if got := rec.count("HostRegistered"); got != 1 {
		t.Fatalf("got %d HostRegistered signals, want 1", got)
	}

	b.RegisterHost("org.kde.StatusNotifierHost-200", ":1.200")
	if got := rec.count("HostRegistered"); got != 1 {
		t.Fatalf("second host re-announced the transition: %d signals", got)
	}

	b.NameLost("org.kde.StatusNotifierHost-100")
	if !b.HostPresent() {
		t.Fatal("host flag dropped while a host remains")
	}
	if got := rec.count("HostUnregistered"); got != 0 {
		t.Fatalf("HostUnregistered emitted with a host remaining: %d", got)
	}

	b.NameLost("org.kde.StatusNotifierHost-200")
	if b.HostPresent() || rec.hostPresent {
		t.Fatal("host flag still set after last host left")
	}
	if got := rec.count("HostUnregistered"); got != 1 {
		t.Fatalf("got %d HostUnregistered signals, want 1", got)
	}
}

func TestDuplicateHostIdempotent(t *testing.T) {
	b, rec, _ := newTestBroker()

	b.RegisterHost("org.kde.StatusNotifierHost-1", ":1.1")
	b.RegisterHost("org.kde.StatusNotifierHost-1", ":1.1")

	if got := rec.count("HostRegistered"); got != 1 {
		t.Fatalf("got %d HostRegistered signals, want 1", got)
	}

	b.NameLost("org.kde.StatusNotifierHost-1")
	if b.HostPresent() {
		t.Fatal("host flag still set; duplicate registration was double counted")
	}
}

func TestHostSenderFallback(t *testing.T) {
	b, _, trk := newTestBroker()

	if err := b.RegisterHost("", ":1.40"); err != nil {
		t.Fatal(err)
	}
	if !b.HostPresent() {
		t.Fatal("host not registered")
	}
	if !trk.watched[":1.40"] {
		t.Fatal("host connection is not watched")
	}
}

func TestLateJoinerSnapshot(t *testing.T) {
	b, rec, _ := newTestBroker()

	// Item registers before any host exists.
	b.RegisterItem("app.early", ":1.1")
	b.RegisterHost("org.kde.StatusNotifierHost-1", ":1.2")

	// The late host never saw the ItemRegistered signal; the property
	// snapshot must still include the item.
	if got := rec.items; !slices.Equal(got, []string{"app.early"}) {
		t.Fatalf("snapshot = %v, want the pre-registered item", got)
	}
}

func TestPerEntrySignalOrdering(t *testing.T) {
	b, rec, _ := newTestBroker()

	b.RegisterItem("app.flicker", ":1.1")
	b.NameLost("app.flicker")

	want := []string{
		"ItemRegistered:app.flicker",
		"ItemUnregistered:app.flicker",
	}
	if !slices.Equal(rec.events, want) {
		t.Fatalf("events = %v, want register before unregister", rec.events)
	}
}

func TestScenarioTwoItemsOneDisconnect(t *testing.T) {
	b, rec, _ := newTestBroker()

	b.RegisterItem("app.one", ":1.1")
	b.RegisterItem("app.two", ":1.2")

	if got := b.Items(); !slices.Equal(got, []string{"app.one", "app.two"}) {
		t.Fatalf("snapshot = %v", got)
	}

	b.NameLost("app.one")

	if got := b.Items(); !slices.Equal(got, []string{"app.two"}) {
		t.Fatalf("snapshot after disconnect = %v", got)
	}
	if got := rec.count("ItemUnregistered:app.one"); got != 1 {
		t.Fatalf("got %d ItemUnregistered signals for app.one, want exactly 1", got)
	}
}

func TestItemsChangedSuppressedWithoutChange(t *testing.T) {
	b, rec, _ := newTestBroker()

	b.RegisterItem("app.one", ":1.1")
	rec.items = nil

	b.RegisterItem("app.one", ":1.1")
	if rec.items != nil {
		t.Fatalf("duplicate registration updated properties: %v", rec.items)
	}
}
