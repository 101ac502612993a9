// Package certwatch watches a reset-descriptor file and triggers
// connection-pool resets when it changes. The file lists one
// "host:port" per line; blank lines and lines starting with '#' are
// ignored. TLS-terminating backends rewrite the file after rotating
// their certificates so the transport drops its cached connections and
// handshakes fresh ones.
package certwatch

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avtransport/internal/observability"
)

// ResetFunc receives the descriptors read from the file.
type ResetFunc func(descriptors []string)

// ErrorCallback is called when an error occurs while reading or
// watching the file.
type ErrorCallback func(error)

// Watcher watches the reset-descriptor file for changes.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	reset         ResetFunc
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	mu            sync.Mutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

// Option is a functional option for configuring the watcher.
type Option func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) Option {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) Option {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// NewWatcher creates a watcher delivering the file's descriptors to
// reset on every change.
func NewWatcher(path string, reset ResetFunc, opts ...Option) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		reset:         reset,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching the descriptor file. The file does not have to
// exist yet; the watch covers its directory so a later create is seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("started watching reset descriptor file",
		observability.String("path", w.path),
	)

	go w.watch()

	return nil
}

// Stop stops watching the descriptor file.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// ForceReset reads the file and delivers its descriptors immediately.
func (w *Watcher) ForceReset() error {
	descriptors, err := ReadDescriptors(w.path)
	if err != nil {
		return err
	}
	w.deliver(descriptors)
	return nil
}

// watch is the main watch loop.
func (w *Watcher) watch() {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("reset descriptor watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = w.handleFileEvent(event, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleWatchError(err)
		}
	}
}

// handleFileEvent processes a file system event and returns the updated
// debounce timer.
func (w *Watcher) handleFileEvent(
	event fsnotify.Event,
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	if filepath.Clean(event.Name) != w.path {
		return debounceTimer, debounceCh
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return debounceTimer, debounceCh
	}

	w.logger.Debug("reset descriptor file changed",
		observability.String("path", event.Name),
		observability.String("op", event.Op.String()),
	)

	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(w.debounceDelay)
	return debounceTimer, debounceTimer.C
}

// handleWatchError handles watcher errors.
func (w *Watcher) handleWatchError(err error) {
	w.logger.Error("reset descriptor watcher error",
		observability.Error(err),
	)
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}

// reload reads the file and delivers its descriptors.
func (w *Watcher) reload() {
	descriptors, err := ReadDescriptors(w.path)
	if err != nil {
		w.logger.Error("failed to read reset descriptor file",
			observability.String("path", w.path),
			observability.Error(err),
		)
		if w.errorCallback != nil {
			w.errorCallback(err)
		}
		return
	}

	w.deliver(descriptors)
}

func (w *Watcher) deliver(descriptors []string) {
	if len(descriptors) == 0 {
		w.logger.Debug("reset descriptor file holds no descriptors",
			observability.String("path", w.path),
		)
		return
	}

	w.logger.Info("triggering connection pool reset",
		observability.String("path", w.path),
		observability.Int("descriptors", len(descriptors)),
	)
	if w.reset != nil {
		w.reset(descriptors)
	}
}

// ReadDescriptors reads "host:port" descriptors from the file, one per
// line. Blank lines and '#' comments are skipped.
func ReadDescriptors(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var descriptors []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		descriptors = append(descriptors, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return descriptors, nil
}
