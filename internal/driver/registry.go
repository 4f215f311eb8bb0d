package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Options are passed to an Opener.
type Options struct {
	Reset       bool
	InitOptions string
}

// Opener opens a session on a resource.
type Opener func(ctx context.Context, resource string, opts Options) (Session, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// Register makes an opener available for resources starting with
// "prefix:". It panics if called twice for the same prefix.
func Register(prefix string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	key := strings.ToUpper(prefix)
	if open == nil {
		panic("driver: Register opener is nil")
	}
	if _, dup := openers[key]; dup {
		panic("driver: Register called twice for " + prefix)
	}
	openers[key] = open
}

// Prefixes returns the registered resource prefixes.
func Prefixes() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	out := make([]string, 0, len(openers))
	for p := range openers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Open opens resource with the opener registered for its prefix.
func Open(ctx context.Context, resource string, opts Options) (Session, error) {
	prefix, _, ok := strings.Cut(resource, ":")
	if !ok {
		return nil, fmt.Errorf("resource %q has no prefix", resource)
	}
	openersMu.RLock()
	open, found := openers[strings.ToUpper(prefix)]
	openersMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("no driver registered for resource %q (known: %s): %w",
			resource, strings.Join(Prefixes(), ", "), ErrUnavailable)
	}
	s, err := open(ctx, resource, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", resource, err)
	}
	return s, nil
}
