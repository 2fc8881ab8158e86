//go:build !unix

package tail

import (
	"os"
	"time"
)

// FileIdentity identifies the underlying file behind a path.
// Without inode semantics it relies on os.SameFile, which compares
// platform file IDs where available.
type FileIdentity struct {
	info os.FileInfo
}

// Same reports whether both identities refer to the same file.
func (id FileIdentity) Same(other FileIdentity) bool {
	if id.info == nil || other.info == nil {
		return id.info == other.info
	}
	return os.SameFile(id.info, other.info)
}

// IsZero reports whether the identity is unset.
func (id FileIdentity) IsZero() bool {
	return id.info == nil
}

func (id FileIdentity) String() string {
	if id.info == nil {
		return "none"
	}
	return id.info.ModTime().Format(time.RFC3339Nano)
}

func statPath(path string) (FileIdentity, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileIdentity{}, 0, err
	}
	return FileIdentity{info: info}, info.Size(), nil
}

func statFile(f *os.File) (FileIdentity, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return FileIdentity{}, 0, err
	}
	return FileIdentity{info: info}, info.Size(), nil
}
