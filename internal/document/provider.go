// ABOUTME: Loads article markdown from the content directory and renders it to a Document
// ABOUTME: Caches parsed documents and invalidates them when the source file changes

package document

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	gocache "github.com/patrickmn/go-cache"
	"github.com/yuin/goldmark"
)

// ErrNotFound is returned when no article exists for a document id.
var ErrNotFound = errors.New("document not found")

// Provider turns article markdown files into parsed Documents.
// Documents are pure derivations of the source file, so they are cached per
// document id and rebuilt only when the file changes or the TTL expires.
type Provider struct {
	dir      string
	markdown goldmark.Markdown
	cache    *gocache.Cache
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	done     chan struct{}
}

// NewProvider creates a Provider over a content directory.
// The directory is watched so edits to an article invalidate its cached
// rendering immediately rather than waiting out the TTL.
func NewProvider(dir string, ttl time.Duration) (*Provider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("content directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content directory %s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating content watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching content directory: %w", err)
	}

	p := &Provider{
		dir:      dir,
		markdown: goldmark.New(),
		cache:    gocache.New(ttl, 2*ttl),
		watcher:  watcher,
		logger:   slog.Default().With("component", "document"),
		done:     make(chan struct{}),
	}
	go p.watch()

	return p, nil
}

// Get returns the current rendering of a document.
// Returns ErrNotFound when no article file exists for the id.
func (p *Provider) Get(id string) (*Document, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	if cached, ok := p.cache.Get(id); ok {
		return cached.(*Document), nil
	}

	raw, err := os.ReadFile(filepath.Join(p.dir, id+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading article %s: %w", id, err)
	}

	var rendered strings.Builder
	if err := p.markdown.Convert(raw, &rendered); err != nil {
		return nil, fmt.Errorf("rendering article %s: %w", id, err)
	}

	doc, err := ParseHTML(id, rendered.String())
	if err != nil {
		return nil, fmt.Errorf("parsing article %s: %w", id, err)
	}

	p.cache.Set(id, doc, gocache.DefaultExpiration)
	return doc, nil
}

// Invalidate drops any cached rendering for a document id.
func (p *Provider) Invalidate(id string) {
	p.cache.Delete(id)
}

// Close stops the directory watcher.
func (p *Provider) Close() error {
	close(p.done)
	return p.watcher.Close()
}

// watch invalidates cached documents when their source file is written,
// renamed or removed.
func (p *Provider) watch() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".md") {
				continue
			}
			id := strings.TrimSuffix(name, ".md")
			p.cache.Delete(id)
			p.logger.Debug("invalidated cached document", "document_id", id, "op", event.Op.String())
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("content watcher error", "error", err)
		}
	}
}

// validateID rejects ids that could escape the content directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty document id", ErrNotFound)
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("%w: invalid document id %q", ErrNotFound, id)
	}
	return nil
}
