package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the bundle under dir whenever a *.rego file changes
// and swaps it into engine atomically. A failed reload logs and keeps
// serving the previous bundle — a bad edit on disk must never take the
// policy engine down.
type Watcher struct {
	dir    string
	engine *Engine
	log    *zap.Logger
	fw     *fsnotify.Watcher
}

// NewWatcher loads the initial bundle from dir and wires it into a new
// Engine, returning both so the caller can start watching once ready.
func NewWatcher(dir string, log *zap.Logger) (*Watcher, *Engine, error) {
	version, err := bundleDigest(dir)
	if err != nil {
		return nil, nil, err
	}
	bundle, err := LoadBundle(dir, version)
	if err != nil {
		return nil, nil, err
	}
	engine := NewEngine(bundle)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, nil, err
	}

	return &Watcher{dir: dir, engine: engine, log: log, fw: fw}, engine, nil
}

// Run watches for filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".rego" {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("policy bundle watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	version, err := bundleDigest(w.dir)
	if err != nil {
		w.log.Warn("policy bundle digest failed, keeping previous bundle", zap.Error(err))
		return
	}
	bundle, err := LoadBundle(w.dir, version)
	if err != nil {
		w.log.Warn("policy bundle reload failed, keeping previous bundle", zap.Error(err))
		return
	}
	w.engine.Swap(bundle)
	w.log.Info("policy bundle reloaded", zap.String("version", version), zap.Int("rules", len(bundle.Rules)))
}

// bundleDigest hashes every *.rego file's contents under dir, giving a
// stable version label that changes iff a rule's text changes.
func bundleDigest(dir string) (string, error) {
	h := sha256.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		h.Write([]byte(path))
		h.Write(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
