package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const requestSuffix = ".request"

// FileGate grants a permission while a file named after it exists in dir,
// e.g. <dir>/microphone. The directory is watched, so HasPermission is a
// map lookup.
type FileGate struct {
	dir     string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	granted map[domain.Permission]bool
	done    chan struct{}
}

func NewFileGate(dir string) (*FileGate, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create permission dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	g := &FileGate{
		dir:     dir,
		watcher: w,
		granted: make(map[domain.Permission]bool),
		done:    make(chan struct{}),
	}
	if err := g.rescan(); err != nil {
		_ = w.Close()
		return nil, err
	}
	go g.loop()
	return g, nil
}

func (g *FileGate) rescan() error {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return fmt.Errorf("scan permission dir: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.granted)
	for _, e := range entries {
		if p, ok := permissionOf(e.Name()); ok && !e.IsDir() {
			g.granted[p] = true
		}
	}
	return nil
}

func permissionOf(name string) (domain.Permission, bool) {
	base := filepath.Base(name)
	if base == "" || strings.HasPrefix(base, ".") || strings.HasSuffix(base, requestSuffix) {
		return "", false
	}
	return domain.Permission(base), true
}

func (g *FileGate) loop() {
	defer close(g.done)
	for {
		select {
		case ev, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			p, ok := permissionOf(ev.Name)
			if !ok {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				// Directories never grant, as in rescan.
				if fi, err := os.Stat(ev.Name); err != nil || fi.IsDir() {
					continue
				}
				g.set(p, true)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				g.set(p, false)
			}
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("module", "permission.file").Msg("watcher error")
			if err := g.rescan(); err != nil {
				log.Error().Err(err).Str("module", "permission.file").Msg("rescan")
			}
		}
	}
}

func (g *FileGate) set(p domain.Permission, granted bool) {
	g.mu.Lock()
	if granted {
		g.granted[p] = true
	} else {
		delete(g.granted, p)
	}
	g.mu.Unlock()
	log.Info().Str("module", "permission.file").Str("permission", string(p)).Bool("granted", granted).Msg("permission changed")
}

// RequestPermission leaves a <permission>.request marker next to the grant
// files so an operator knows what to create.
func (g *FileGate) RequestPermission(p domain.Permission) {
	marker := filepath.Join(g.dir, string(p)+requestSuffix)
	if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		log.Error().Err(err).Str("module", "permission.file").Str("path", marker).Msg("write request marker")
	}
	log.Info().Str("module", "permission.file").Str("permission", string(p)).Str("grant_path", filepath.Join(g.dir, string(p))).Msg("permission requested")
}

func (g *FileGate) HasPermission(p domain.Permission) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.granted[p]
}

func (g *FileGate) Close() error {
	err := g.watcher.Close()
	<-g.done
	return err
}
