package rules

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current rule set and supports hot-reloading it from
// disk. Loaded rule sets are immutable; a reload builds a fresh set and
// swaps it atomically, so in-flight turns keep the set they started
// with. A failed reload keeps the previous set in place.
type Store struct {
	current atomic.Pointer[RuleSet]

	// Path is the rules file backing this store; empty means the
	// built-in default rule set with no reload support.
	Path string

	// Validate, when set, runs against a freshly parsed rule set before
	// it is swapped in. The engine installs a check that every external
	// action the set references is registered.
	Validate func(*RuleSet) error

	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	logger     *log.Logger
	reloadLock sync.Mutex
}

// NewStore creates a store and performs the initial load. A load error
// at this point is fatal to startup.
func NewStore(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		Path:      path,
		stopWatch: make(chan struct{}),
		logger:    logger,
	}

	if path == "" {
		s.current.Store(Default())
		s.logger.Printf("[rules] no rules file configured, using built-in rule set")
		return s, nil
	}

	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active rule set. Safe for concurrent use; callers
// must hold on to the returned set for the duration of a turn so the
// whole turn sees one consistent set.
func (s *Store) Current() *RuleSet {
	return s.current.Load()
}

// Reload re-reads the rules file and swaps the active set on success.
func (s *Store) Reload() error {
	s.reloadLock.Lock()
	defer s.reloadLock.Unlock()
	return s.reload()
}

func (s *Store) reload() error {
	rs, err := LoadFile(s.Path)
	if err != nil {
		return err
	}
	if s.Validate != nil {
		if err := s.Validate(rs); err != nil {
			return fmt.Errorf("%s: %w", s.Path, err)
		}
	}
	s.current.Store(rs)
	s.logger.Printf("[rules] loaded rule set version %s: %d intents, %d user flows, %d bot flows",
		rs.Version, len(rs.Intents), len(rs.UserFlows), len(rs.BotFlows))
	return nil
}

// StartHotReload watches the rules file and reloads on change. Rapid
// successive writes are debounced.
func (s *Store) StartHotReload() error {
	if s.Path == "" {
		return fmt.Errorf("cannot watch rules: no rules file configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	s.watcher = watcher

	if err := watcher.Add(s.Path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rules file: %w", err)
	}

	go s.watchLoop()

	s.logger.Printf("[rules] hot-reload enabled for: %s", s.Path)
	return nil
}

// StopHotReload stops the file watcher.
func (s *Store) StopHotReload() {
	if s.watcher != nil {
		close(s.stopWatch)
		s.watcher.Close()
	}
}

func (s *Store) watchLoop() {
	var debounceTimer *time.Timer
	debounce := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					s.reloadLock.Lock()
					defer s.reloadLock.Unlock()

					old := s.Current()
					if err := s.reload(); err != nil {
						s.logger.Printf("[rules] hot-reload FAILED, keeping version %s: %v", old.Version, err)
					}
				})
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("[rules] watcher error: %v", err)
		case <-s.stopWatch:
			return
		}
	}
}
