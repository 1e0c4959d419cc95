// Package animation holds the list of animation URLs attached to notifications.
package animation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
)

// DefaultPath is the file name used when animations.path is not configured.
const DefaultPath = "animation_urls.json"

var (
	ErrEmpty           = errors.New("animation list is empty")
	ErrIndexOutOfRange = errors.New("animation index out of range")
)

// Catalog is a concurrency-safe, never-empty list of animation URLs.
type Catalog struct {
	mu   sync.RWMutex
	urls []string
}

// New builds a catalog from urls. Blank entries are dropped.
func New(urls []string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(urls); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a JSON array of URLs from path.
func Load(path string) (*Catalog, error) {
	urls, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return New(urls)
}

func readFile(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read animations %q: %w", path, err)
	}
	var urls []string
	if err := json.Unmarshal(b, &urls); err != nil {
		return nil, fmt.Errorf("parse animations %q: %w", path, err)
	}
	return urls, nil
}

// Reload replaces the list with the contents of path. On error the current
// list is kept.
func (c *Catalog) Reload(path string) error {
	urls, err := readFile(path)
	if err != nil {
		return err
	}
	return c.Replace(urls)
}

// Replace swaps the list. An empty list is rejected and leaves c unchanged.
func (c *Catalog) Replace(urls []string) error {
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	if len(clean) == 0 {
		return ErrEmpty
	}
	c.mu.Lock()
	c.urls = clean
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.urls)
}

// All returns a copy of the list in index order.
func (c *Catalog) All() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.urls...)
}

// At returns the URL at index i.
func (c *Catalog) At(i int) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.urls) {
		return "", fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(c.urls))
	}
	return c.urls[i], nil
}

// Random returns a uniformly chosen URL.
func (c *Catalog) Random() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.urls[rand.IntN(len(c.urls))]
}
