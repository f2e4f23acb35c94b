package cache

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mmcdole/marquee/internal/domain"
)

// RootName is the directory created under the OS temp dir when no cache root is configured
const RootName = "marquee-cache"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Destination is where an item lives in the cache
type Destination struct {
	Path string // final file path (the zip for packages)
	Dir  string // expansion directory, packages only
	Base string // sanitized identifier shared by Path and Dir
}

// Store maps scenario items to deterministic locations under one root.
// It owns every path below Root; downloads and extraction only write where
// Store points them.
type Store struct {
	root string
}

// NewStore creates the cache root if needed
func NewStore(root string) (*Store, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), RootName)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute cache root
func (s *Store) Root() string {
	return s.root
}

// SafeBase derives the identifier used for file names. The same logical item
// always yields the same base across passes. The result is always a single
// path element below the root; dot-only names become "asset".
func SafeBase(item domain.ScenarioItem) string {
	base := item.ID
	if base == "" {
		if u, err := url.Parse(item.SourceURL); err == nil {
			base = u.Query().Get("img")
			if base == "" {
				if b := path.Base(u.Path); b != "/" && b != "." {
					base = b
				}
			}
		}
	}
	base = unsafeChars.ReplaceAllString(base, "-")
	if strings.Trim(base, ".") == "" {
		base = "asset"
	}
	return base
}

// DestinationFor returns the cache location for item using ext (with leading dot)
func (s *Store) DestinationFor(item domain.ScenarioItem, ext string) Destination {
	base := SafeBase(item)
	return Destination{
		Path: filepath.Join(s.root, base+ext),
		Dir:  filepath.Join(s.root, base),
		Base: base,
	}
}

// Exists reports whether the final path is present. Staging files never count.
func (s *Store) Exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Rel returns p relative to the root using forward slashes
func (s *Store) Rel(p string) (string, error) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Entries lists the direct children of the root
func (s *Store) Entries() ([]domain.CacheEntry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.CacheEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		kind := domain.EntryFile
		if e.IsDir() {
			kind = domain.EntryDirectory
		}
		entries = append(entries, domain.CacheEntry{Path: filepath.Join(s.root, e.Name()), Kind: kind})
	}
	return entries, nil
}

// NewPass starts an empty keep-set for a resolution pass
func (s *Store) NewPass() *KeepSet {
	return &KeepSet{paths: make(map[string]struct{})}
}

// KeepSet is the set of cache paths referenced by one resolution pass
type KeepSet struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

func (k *KeepSet) Add(p string) {
	k.mu.Lock()
	k.paths[filepath.Clean(p)] = struct{}{}
	k.mu.Unlock()
}

func (k *KeepSet) Has(p string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.paths[filepath.Clean(p)]
	return ok
}

func (k *KeepSet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.paths)
}

// Paths returns the members in sorted order
func (k *KeepSet) Paths() []string {
	k.mu.RLock()
	out := make([]string, 0, len(k.paths))
	for p := range k.paths {
		out = append(out, p)
	}
	k.mu.RUnlock()
	sort.Strings(out)
	return out
}
