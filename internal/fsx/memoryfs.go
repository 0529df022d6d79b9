package fsx

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MemoryFS is a pure in-memory filesystem for tests.
type MemoryFS struct {
	files map[string][]byte
	dirs  map[string]struct{}
	mtime map[string]time.Time
}

func NewMemoryFS() *MemoryFS {
	f := &MemoryFS{
		files: make(map[string][]byte),
		dirs:  make(map[string]struct{}),
		mtime: make(map[string]time.Time),
	}
	f.dirs["/"] = struct{}{}
	f.dirs["."] = struct{}{}
	return f
}

// normalize paths
func clean(p string) string {
	if p == "" {
		return "."
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func (f *MemoryFS) Stat(p string) (os.FileInfo, error) {
	p = clean(p)
	if data, ok := f.files[p]; ok {
		return &memInfo{name: path.Base(p), size: int64(len(data)), mtime: f.mtime[p]}, nil
	}
	if _, ok := f.dirs[p]; ok {
		return &memInfo{name: path.Base(p), dir: true, mtime: f.mtime[p]}, nil
	}
	return nil, &os.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (f *MemoryFS) ReadFile(p string) ([]byte, error) {
	p = clean(p)
	data, ok := f.files[p]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (f *MemoryFS) WriteFile(p string, data []byte, perm os.FileMode) error {
	p = clean(p)
	if _, ok := f.dirs[p]; ok {
		return &os.PathError{Op: "open", Path: p, Err: fmt.Errorf("is a directory")}
	}
	dir := path.Dir(p)
	if _, ok := f.dirs[dir]; !ok {
		return &os.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	f.files[p] = append([]byte(nil), data...)
	f.mtime[p] = time.Now()
	return nil
}

func (f *MemoryFS) ReadDir(p string) ([]os.DirEntry, error) {
	p = clean(p)
	if _, ok := f.dirs[p]; !ok {
		return nil, &os.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	var entries []os.DirEntry
	for fp, data := range f.files {
		if path.Dir(fp) == p {
			entries = append(entries, &memEntry{info: memInfo{name: path.Base(fp), size: int64(len(data)), mtime: f.mtime[fp]}})
		}
	}
	for dp := range f.dirs {
		if dp != p && path.Dir(dp) == p {
			entries = append(entries, &memEntry{info: memInfo{name: path.Base(dp), dir: true, mtime: f.mtime[dp]}})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (f *MemoryFS) MkdirAll(p string, perm os.FileMode) error {
	p = clean(p)
	cur := "."
	if strings.HasPrefix(p, "/") {
		cur = "/"
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." {
			continue
		}
		cur = path.Join(cur, seg)
		if _, ok := f.files[cur]; ok {
			return &os.PathError{Op: "mkdir", Path: cur, Err: fmt.Errorf("not a directory")}
		}
		if _, ok := f.dirs[cur]; !ok {
			f.dirs[cur] = struct{}{}
			f.mtime[cur] = time.Now()
		}
	}
	return nil
}

func (f *MemoryFS) Remove(p string) error {
	p = clean(p)
	if _, ok := f.files[p]; ok {
		delete(f.files, p)
		delete(f.mtime, p)
		return nil
	}
	if _, ok := f.dirs[p]; ok {
		entries, _ := f.ReadDir(p)
		if len(entries) > 0 {
			return &os.PathError{Op: "remove", Path: p, Err: fmt.Errorf("directory not empty")}
		}
		delete(f.dirs, p)
		delete(f.mtime, p)
		return nil
	}
	return &os.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
}

func (f *MemoryFS) RemoveAll(p string) error {
	p = clean(p)
	prefix := p + "/"
	for fp := range f.files {
		if fp == p || strings.HasPrefix(fp, prefix) {
			delete(f.files, fp)
			delete(f.mtime, fp)
		}
	}
	for dp := range f.dirs {
		if dp == p || strings.HasPrefix(dp, prefix) {
			delete(f.dirs, dp)
			delete(f.mtime, dp)
		}
	}
	return nil
}

type memInfo struct {
	name  string
	size  int64
	dir   bool
	mtime time.Time
}

func (m *memInfo) Name() string       { return m.name }
func (m *memInfo) Size() int64        { return m.size }
func (m *memInfo) Mode() os.FileMode  { return m.mode() }
func (m *memInfo) ModTime() time.Time { return m.mtime }
func (m *memInfo) IsDir() bool        { return m.dir }
func (m *memInfo) Sys() any           { return nil }

func (m *memInfo) mode() os.FileMode {
	if m.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}

type memEntry struct {
	info memInfo
}

func (e *memEntry) Name() string               { return e.info.name }
func (e *memEntry) IsDir() bool                { return e.info.dir }
func (e *memEntry) Type() os.FileMode          { return e.info.mode().Type() }
func (e *memEntry) Info() (os.FileInfo, error) { return &e.info, nil }
