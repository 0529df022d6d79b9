package fsx

import "os"

// FS abstracts the filesystem operations the engine performs, so the
// snapshot store can run against the real disk or an in-memory tree.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	RemoveAll(path string) error
}

// Exists reports whether path exists on fs.
func Exists(fs FS, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// IsDir reports whether path exists on fs and is a directory.
func IsDir(fs FS, path string) bool {
	fi, err := fs.Stat(path)
	return err == nil && fi.IsDir()
}
