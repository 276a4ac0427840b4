// Package source defines the parser contract for note-collection sources
// and the registry that maps format names to parser factories. Adapters
// register themselves at init time and are pulled in by blank imports, so
// adding a format never touches the pipeline.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/notemill/notemill/internal/apperr"
	"github.com/notemill/notemill/internal/imf"
)

// Parser reads one source location and produces an entity forest whose
// bodies carry canonical note:// and resource:// references.
type Parser interface {
	Parse(ctx context.Context) (*imf.Forest, error)
}

// Factory builds a parser bound to one source path.
type Factory func(path string, logger *slog.Logger) Parser

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a format available under name. Called from adapter init
// functions; a duplicate name panics because it is a programming error.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("source: format %q registered twice", name))
	}
	factories[name] = f
}

// New returns a parser for the named format bound to path.
func New(format, path string, logger *slog.Logger) (Parser, error) {
	mu.RLock()
	f, ok := factories[format]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source: format %q: %w", format, apperr.ErrUnknownFormat)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return f(path, logger), nil
}

// Formats lists the registered format names, sorted.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
