//go:build linux

package hotplug

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"

	"devcat/internal/devcat"
	"devcat/internal/syncutil"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2Path           = "/org/freedesktop/UDisks2"
	udisks2BlockInterface = "org.freedesktop.UDisks2.Block"
	udisks2FSInterface    = "org.freedesktop.UDisks2.Filesystem"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager"
)

// UDisksSource reports block devices carrying a filesystem, as seen by
// UDisks2 on the system bus. Devices UDisks marks as system or ignored are
// skipped.
type UDisksSource struct {
	filter filter
	seq    *devcat.Sequencer
	clock  clockwork.Clock
	logger devcat.Logger

	conn     *dbus.Conn
	events   chan devcat.Event
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu    syncutil.Mutex
	paths map[dbus.ObjectPath]devcat.Event // object path -> last Added event
}

// NewUDisksSource creates a UDisksSource. Only devnodes starting with one
// of prefixes are reported; no prefixes means all.
func NewUDisksSource(prefixes []string, seq *devcat.Sequencer, clock clockwork.Clock, logger devcat.Logger) *UDisksSource {
	return &UDisksSource{
		filter:   filter{prefixes: prefixes},
		seq:      seq,
		clock:    clock,
		logger:   logger,
		events:   make(chan devcat.Event, 16),
		stopChan: make(chan struct{}),
		paths:    make(map[dbus.ObjectPath]devcat.Event),
	}
}

func (s *UDisksSource) Events() <-chan devcat.Event {
	return s.events
}

func (s *UDisksSource) Start(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	s.conn = conn

	for _, member := range []string{"InterfacesAdded", "InterfacesRemoved"} {
		if err := s.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(udisks2Path),
			dbus.WithMatchInterface(dbusObjectManager),
			dbus.WithMatchMember(member),
		); err != nil {
			_ = s.conn.Close()
			return fmt.Errorf("failed to add match for %s: %w", member, err)
		}
	}

	signals := make(chan *dbus.Signal, 16)
	s.conn.Signal(signals)

	s.wg.Add(1)
	go s.listen(ctx, signals)

	s.logger.Info("listening for udisks2 device events")
	return nil
}

func (s *UDisksSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Enumerate lists the filesystems UDisks2 currently knows about.
func (s *UDisksSource) Enumerate(ctx context.Context) ([]devcat.Event, error) {
	conn := s.conn
	if conn == nil {
		var err error
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
		}
		defer conn.Close()
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := conn.Object(udisks2Service, udisks2Path)
	if err := obj.CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("listing udisks2 objects: %w", err)
	}

	var events []devcat.Event
	for path, interfaces := range objects {
		ev, ok := s.addedEvent(interfaces)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.paths[path] = ev
		s.mu.Unlock()
		events = append(events, ev)
	}
	sortEvents(events)
	return events, nil
}

func (s *UDisksSource) listen(ctx context.Context, signals chan *dbus.Signal) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case signal, ok := <-signals:
			if !ok || signal == nil {
				return
			}
			var ev devcat.Event
			var emit bool
			switch signal.Name {
			case dbusObjectManager + ".InterfacesAdded":
				ev, emit = s.handleInterfacesAdded(signal)
			case dbusObjectManager + ".InterfacesRemoved":
				ev, emit = s.handleInterfacesRemoved(signal)
			}
			if !emit {
				continue
			}
			select {
			case s.events <- ev:
				s.logger.Debug("device event", "kind", ev.Kind.String(), "devnode", ev.Devnode, "uuid", ev.UUID, "seq", ev.Seq)
			case <-s.stopChan:
				return
			}
		}
	}
}

func (s *UDisksSource) handleInterfacesAdded(signal *dbus.Signal) (devcat.Event, bool) {
	if len(signal.Body) < 2 {
		return devcat.Event{}, false
	}
	path, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return devcat.Event{}, false
	}
	interfaces, ok := signal.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return devcat.Event{}, false
	}

	ev, ok := s.addedEvent(interfaces)
	if !ok {
		return devcat.Event{}, false
	}

	s.mu.Lock()
	s.paths[path] = ev
	s.mu.Unlock()
	return ev, true
}

func (s *UDisksSource) handleInterfacesRemoved(signal *dbus.Signal) (devcat.Event, bool) {
	if len(signal.Body) < 2 {
		return devcat.Event{}, false
	}
	path, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return devcat.Event{}, false
	}
	interfaces, ok := signal.Body[1].([]string)
	if !ok {
		return devcat.Event{}, false
	}

	relevant := false
	for _, iface := range interfaces {
		if iface == udisks2FSInterface || iface == udisks2BlockInterface {
			relevant = true
			break
		}
	}
	if !relevant {
		return devcat.Event{}, false
	}

	s.mu.Lock()
	added, ok := s.paths[path]
	delete(s.paths, path)
	s.mu.Unlock()
	if !ok {
		return devcat.Event{}, false
	}

	return devcat.Event{
		Kind:    devcat.EventRemoved,
		Devnode: added.Devnode,
		UUID:    added.UUID,
		Seq:     s.seq.Next(),
		At:      s.clock.Now(),
	}, true
}

// addedEvent builds an Added event from a udisks2 object's interfaces, or
// reports false if the object is not a managed filesystem.
func (s *UDisksSource) addedEvent(interfaces map[string]map[string]dbus.Variant) (devcat.Event, bool) {
	blockProps, hasBlock := interfaces[udisks2BlockInterface]
	_, hasFS := interfaces[udisks2FSInterface]
	if !hasBlock || !hasFS {
		return devcat.Event{}, false
	}
	if boolProp(blockProps, "HintSystem") || boolProp(blockProps, "HintIgnore") {
		return devcat.Event{}, false
	}

	devnode := deviceNode(blockProps)
	if devnode == "" || !s.filter.allows(devnode) {
		return devcat.Event{}, false
	}

	return devcat.Event{
		Kind:    devcat.EventAdded,
		Devnode: devnode,
		UUID:    stringProp(blockProps, "IdUUID"),
		Seq:     s.seq.Next(),
		At:      s.clock.Now(),
	}, true
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	if v, ok := props[name]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// deviceNode extracts the block device path (e.g. "/dev/sda1"). UDisks
// sends it as a NUL-terminated byte array.
func deviceNode(props map[string]dbus.Variant) string {
	for _, name := range []string{"PreferredDevice", "Device"} {
		if v, ok := props[name]; ok {
			if b, ok := v.Value().([]byte); ok && len(b) > 0 {
				if node := strings.TrimRight(string(b), "\x00"); node != "" {
					return node
				}
			}
		}
	}
	return ""
}

var _ devcat.Source = (*UDisksSource)(nil)
