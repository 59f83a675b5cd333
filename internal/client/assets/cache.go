// Package assets is the on-device Binary Asset Cache for photo files and
// its reconciliation against photo rows.
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const tmpPrefix = ".tmp-"

// Path derives the cache-relative file of a photo from its id and remote
// uri. Each photo gets its own directory, so paths never collide across
// photos, and the file name is a hash of the uri.
func Path(photoID, uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return filepath.Join(url.PathEscape(photoID), hex.EncodeToString(sum[:8])+extension(uri))
}

func extension(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		uri = u.Path
	}
	ext := strings.ToLower(path.Ext(uri))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// Cache stores files under a root directory of an afero filesystem.
type Cache struct {
	fs afero.Fs
}

// NewCache roots a cache at dir on fsys, creating dir if needed.
func NewCache(fsys afero.Fs, dir string) (*Cache, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Cache{fs: afero.NewBasePathFs(fsys, dir)}, nil
}

// NewOSCache roots a cache at dir on the local disk.
func NewOSCache(dir string) (*Cache, error) {
	return NewCache(afero.NewOsFs(), dir)
}

// Has reports whether a file exists at the cache-relative path p.
func (c *Cache) Has(p string) (bool, error) {
	return afero.Exists(c.fs, p)
}

// Put writes r to p atomically: readers see either no file or the whole one.
func (c *Cache) Put(p string, r io.Reader) (int64, error) {
	dir := filepath.Dir(p)
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(c.fs, dir, tmpPrefix)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = c.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", p, err)
	}
	if err := c.fs.Rename(tmp.Name(), p); err != nil {
		_ = c.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("rename into %s: %w", p, err)
	}
	return n, nil
}

// Remove deletes p and its directory once empty. It reports whether a file
// was actually removed.
func (c *Cache) Remove(p string) (bool, error) {
	err := c.fs.Remove(p)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", p, err)
	}
	dir := filepath.Dir(p)
	if empty, _ := afero.IsEmpty(c.fs, dir); empty && dir != "." {
		_ = c.fs.Remove(dir)
	}
	return true, nil
}

// List returns every cached file, sorted. Leftover temp files are included
// so garbage collection can clear them.
func (c *Cache) List() ([]string, error) {
	var out []string
	err := afero.Walk(c.fs, ".", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			out = append(out, filepath.Clean(p))
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Open returns a reader for the cached file at p.
func (c *Cache) Open(p string) (afero.File, error) {
	return c.fs.Open(p)
}
