//go:build unix

package tail

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileIdentity identifies the underlying file behind a path.
// It changes when the path is replaced, for example by log rotation.
type FileIdentity struct {
	Dev uint64
	Ino uint64
}

// Same reports whether both identities refer to the same file.
func (id FileIdentity) Same(other FileIdentity) bool {
	return id == other
}

// IsZero reports whether the identity is unset.
func (id FileIdentity) IsZero() bool {
	return id == FileIdentity{}
}

func (id FileIdentity) String() string {
	return fmt.Sprintf("%d:%d", id.Dev, id.Ino)
}

// statPath returns the identity and size of the file currently at path.
func statPath(path string) (FileIdentity, int64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return FileIdentity{}, 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return FileIdentity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, st.Size, nil //nolint:unconvert // widths vary by platform
}

// statFile returns the identity and size of an open file handle.
func statFile(f *os.File) (FileIdentity, int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return FileIdentity{}, 0, &os.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}
	return FileIdentity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, st.Size, nil //nolint:unconvert // widths vary by platform
}
