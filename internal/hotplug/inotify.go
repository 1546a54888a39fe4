package hotplug

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"devcat/internal/devcat"
	"devcat/internal/syncutil"
)

// DefaultByUUIDDir is where udev keeps one symlink per filesystem UUID.
const DefaultByUUIDDir = "/dev/disk/by-uuid"

// InotifySource watches a by-uuid directory. Each symlink appearing there is
// a filesystem with that UUID; its target is the devnode. Filesystems without
// a UUID never show up here and are not reported.
type InotifySource struct {
	dir    string
	filter filter
	seq    *devcat.Sequencer
	clock  clockwork.Clock
	logger devcat.Logger

	watcher  *fsnotify.Watcher
	events   chan devcat.Event
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu    syncutil.Mutex
	nodes map[string]string // uuid -> devnode
}

// NewInotifySource creates an InotifySource watching dir.
func NewInotifySource(dir string, prefixes []string, seq *devcat.Sequencer, clock clockwork.Clock, logger devcat.Logger) *InotifySource {
	return &InotifySource{
		dir:      dir,
		filter:   filter{prefixes: prefixes},
		seq:      seq,
		clock:    clock,
		logger:   logger,
		events:   make(chan devcat.Event, 16),
		stopChan: make(chan struct{}),
		nodes:    make(map[string]string),
	}
}

func (s *InotifySource) Events() <-chan devcat.Event {
	return s.events
}

func (s *InotifySource) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.watcher = watcher

	// Learn what is already there so removals of pre-existing links resolve.
	if _, err := s.Enumerate(ctx); err != nil {
		s.logger.Warn("initial enumeration failed", "dir", s.dir, "error", err)
	}

	s.wg.Add(1)
	go s.listen(ctx)

	s.logger.Info("watching for device links", "dir", s.dir)
	return nil
}

func (s *InotifySource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Enumerate lists the links currently in the watched directory.
func (s *InotifySource) Enumerate(ctx context.Context) ([]devcat.Event, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.dir, err)
	}

	var events []devcat.Event
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, ok := s.added(entry.Name())
		if ok {
			events = append(events, ev)
		}
	}
	sortEvents(events)
	return events, nil
}

func (s *InotifySource) listen(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", "dir", s.dir, "error", err)
		case fsEvent, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(fsEvent.Name)

			var ev devcat.Event
			var emit bool
			switch {
			case fsEvent.Has(fsnotify.Create):
				ev, emit = s.added(name)
			case fsEvent.Has(fsnotify.Remove), fsEvent.Has(fsnotify.Rename):
				ev, emit = s.removed(name)
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

func (s *InotifySource) added(uuid string) (devcat.Event, bool) {
	devnode, err := filepath.EvalSymlinks(filepath.Join(s.dir, uuid))
	if err != nil {
		s.logger.Debug("cannot resolve device link", "uuid", uuid, "error", err)
		return devcat.Event{}, false
	}
	if !s.filter.allows(devnode) {
		return devcat.Event{}, false
	}

	s.mu.Lock()
	s.nodes[uuid] = devnode
	s.mu.Unlock()

	return devcat.Event{
		Kind:    devcat.EventAdded,
		Devnode: devnode,
		UUID:    uuid,
		Seq:     s.seq.Next(),
		At:      s.clock.Now(),
	}, true
}

func (s *InotifySource) removed(uuid string) (devcat.Event, bool) {
	s.mu.Lock()
	devnode, ok := s.nodes[uuid]
	delete(s.nodes, uuid)
	s.mu.Unlock()
	if !ok {
		return devcat.Event{}, false
	}

	return devcat.Event{
		Kind:    devcat.EventRemoved,
		Devnode: devnode,
		UUID:    uuid,
		Seq:     s.seq.Next(),
		At:      s.clock.Now(),
	}, true
}

// LookupUUID returns the UUID whose link in dir points at devnode, or "" if
// there is none. Relative link targets are resolved against dir.
func LookupUUID(dir, devnode string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}

	want := filepath.Clean(devnode)
	resolved, err := filepath.EvalSymlinks(devnode)
	if err != nil {
		resolved = want
	}
	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		target = filepath.Clean(target)
		if target == want || target == resolved {
			return entry.Name(), nil
		}
	}
	return "", nil
}

var _ devcat.Source = (*InotifySource)(nil)
