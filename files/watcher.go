package files

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/broomy/broomy-core/logger"
)

// DefaultWatchDebounce coalesces bursts of filesystem events.
const DefaultWatchDebounce = 100 * time.Millisecond

// Publisher receives change batches. events.Bus implements it.
type Publisher interface {
	Publish(channel string, payload any)
}

// Change is one changed path in a batch.
type Change struct {
	Path string `json:"path"`
	Op   string `json:"op"` // create, write, remove, rename, chmod
}

// ChangeBatch is the payload of an fs:change:<id> event.
type ChangeBatch struct {
	ID      string   `json:"id"`
	Dir     string   `json:"dir"`
	Changes []Change `json:"changes"`
}

// ChangeChannel returns the event channel of watch id.
func ChangeChannel(id string) string {
	return "fs:change:" + id
}

type watch struct {
	id       string
	root     string
	fsw      *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	pending  map[string]fsnotify.Op
	timer    *time.Timer
	debounce time.Duration
	pub      Publisher
}

// Watcher manages recursive directory watches keyed by client-chosen IDs.
type Watcher struct {
	pub      Publisher
	debounce time.Duration
	mu       sync.Mutex
	watches  map[string]*watch
}

// NewWatcher creates a Watcher publishing to pub. debounce <= 0 selects
// DefaultWatchDebounce.
func NewWatcher(pub Publisher, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &Watcher{pub: pub, debounce: debounce, watches: make(map[string]*watch)}
}

// Watch starts watching dir recursively under id, replacing any previous
// watch with the same id.
func (w *Watcher) Watch(id, dir string) error {
	if id == "" {
		return fmt.Errorf("watch id is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	wt := &watch{
		id:       id,
		root:     dir,
		fsw:      fsw,
		done:     make(chan struct{}),
		pending:  make(map[string]fsnotify.Op),
		debounce: w.debounce,
		pub:      w.pub,
	}
	if err := wt.addRecursive(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.mu.Lock()
	old := w.watches[id]
	w.watches[id] = wt
	w.mu.Unlock()
	if old != nil {
		old.stop()
	}

	wt.wg.Add(1)
	go wt.run()
	logger.WithComponent("files").Debug("watching directory", "id", id, "dir", dir)
	return nil
}

// Unwatch stops watch id. Returns false when it does not exist.
func (w *Watcher) Unwatch(id string) bool {
	w.mu.Lock()
	wt := w.watches[id]
	delete(w.watches, id)
	w.mu.Unlock()
	if wt == nil {
		return false
	}
	wt.stop()
	return true
}

// Active returns the IDs of the running watches.
func (w *Watcher) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.watches))
	for id := range w.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every watch.
func (w *Watcher) Close() {
	w.mu.Lock()
	watches := w.watches
	w.watches = make(map[string]*watch)
	w.mu.Unlock()
	for _, wt := range watches {
		wt.stop()
	}
}

func (wt *watch) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != wt.root && SkipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return wt.fsw.Add(path)
	})
}

func (wt *watch) run() {
	defer wt.wg.Done()
	log := logger.WithComponent("files")
	for {
		select {
		case <-wt.done:
			return
		case event, ok := <-wt.fsw.Events:
			if !ok {
				return
			}
			if wt.skipped(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := wt.addRecursive(event.Name); err != nil {
						log.Warn("failed to watch new directory", "id", wt.id, "dir", event.Name, "error", err)
					}
				}
			}
			wt.record(event)
		case err, ok := <-wt.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error", "id", wt.id, "error", err)
		}
	}
}

// skipped reports whether path lies inside a skip-list directory.
func (wt *watch) skipped(path string) bool {
	rel, err := filepath.Rel(wt.root, path)
	if err != nil {
		return false
	}
	dir := rel
	for dir != "." && dir != "" && dir != string(filepath.Separator) && dir != ".." {
		if SkipDirs[filepath.Base(dir)] {
			return true
		}
		dir = filepath.Dir(dir)
	}
	return false
}

func (wt *watch) record(event fsnotify.Event) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.pending[event.Name] |= event.Op
	if wt.timer == nil {
		wt.timer = time.AfterFunc(wt.debounce, wt.flush)
	} else {
		wt.timer.Reset(wt.debounce)
	}
}

func (wt *watch) flush() {
	wt.mu.Lock()
	pending := wt.pending
	wt.pending = make(map[string]fsnotify.Op)
	wt.mu.Unlock()

	select {
	case <-wt.done:
		return
	default:
	}
	if len(pending) == 0 || wt.pub == nil {
		return
	}

	batch := ChangeBatch{ID: wt.id, Dir: wt.root, Changes: make([]Change, 0, len(pending))}
	for path, op := range pending {
		batch.Changes = append(batch.Changes, Change{Path: path, Op: opName(op)})
	}
	sort.Slice(batch.Changes, func(i, j int) bool { return batch.Changes[i].Path < batch.Changes[j].Path })
	wt.pub.Publish(ChangeChannel(wt.id), batch)
}

func (wt *watch) stop() {
	close(wt.done)
	wt.fsw.Close()
	wt.wg.Wait()
	wt.mu.Lock()
	if wt.timer != nil {
		wt.timer.Stop()
	}
	wt.mu.Unlock()
}

// opName reports the most significant operation of a coalesced op set.
func opName(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	default:
		return "chmod"
	}
}
