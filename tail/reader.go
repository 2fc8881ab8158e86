// Package tail implements the incremental, rotation-safe file tail reader.
//
// The reader owns one file handle and one byte offset. Each poll cycle
// re-checks the path's identity and size, then pushes any newly appended
// bytes to a Sink in file order:
//
//   - identity unchanged, size >= offset: read [offset, size)
//   - identity unchanged, size < offset: truncation, restart at 0
//   - identity changed: rotation, drain the old handle, then read the new
//     file from 0
//   - path missing: retry on the next cycle
package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pithecene-io/logline/iox"
	"github.com/pithecene-io/logline/queue"
	"github.com/pithecene-io/logline/types"
)

// DefaultChunkSize bounds the size of a single pushed chunk (64 KiB).
const DefaultChunkSize = 64 * 1024

// alignWindow is how far past the tail offset the reader looks for a
// newline when AlignLines is set.
const alignWindow = 4096

// Sink receives chunks in file order. Push may block for back-pressure.
type Sink interface {
	Push(ctx context.Context, c queue.Chunk) error
	// TryPush accepts c only if that needs no waiting.
	TryPush(c queue.Chunk) (bool, error)
}

// Config configures a Reader.
type Config struct {
	// Path is the monitored file.
	Path string
	// FromStart reads existing content from offset 0.
	FromStart bool
	// TailBytes is how much existing content to read at startup
	// when FromStart is false. Zero starts at the end of the file.
	TailBytes uint64
	// AlignLines snaps the initial tail offset forward to a line start.
	AlignLines bool
	// ChunkSize bounds each pushed chunk. Zero means DefaultChunkSize.
	ChunkSize int
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// State is a snapshot of the reader's position.
type State struct {
	// Path is the monitored file path.
	Path string
	// Identity is the identity of the last file opened, zero if none yet.
	Identity FileIdentity
	// Offset is the next unread byte position.
	Offset int64
	// Epoch increments on each truncation or rotation reset.
	Epoch uint64
	// LastPoll is when the last poll cycle ran.
	LastPoll time.Time
	// Open reports whether a file handle is held.
	Open bool
}

// Reader tails a single file. Poll and Run must be called from one goroutine.
type Reader struct {
	cfg  Config
	sink Sink
	obs  types.Observer

	file     *os.File
	ident    FileIdentity
	offset   int64
	epoch    uint64
	lastPoll time.Time
	missing  bool
	full     bool // queue_full reported, not yet cleared by a prompt push
	failing  bool // file_read_error reported, not yet cleared by a clean cycle

	mu   sync.Mutex // guards snap
	snap State
}

// CheckPath validates the monitored path at startup.
// A missing file is allowed as long as its directory exists; the reader
// waits for it to appear. A directory path or a missing parent is fatal.
func CheckPath(path string) error {
	if path == "" {
		return types.NewConfigError("file_path", errors.New("must be non-empty"))
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return types.NewConfigError("file_path", fmt.Errorf("%s is a directory", path))
		}
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return types.NewConfigError("file_path", err)
	}

	dir := filepath.Dir(path)
	dinfo, err := os.Stat(dir)
	if err != nil {
		return types.NewConfigError("file_path", fmt.Errorf("parent directory: %w", err))
	}
	if !dinfo.IsDir() {
		return types.NewConfigError("file_path", fmt.Errorf("parent %s is not a directory", dir))
	}
	return nil
}

// NewReader validates the path and positions the reader according to the
// start policy. If the file does not exist yet, it is read from offset 0
// once it appears.
func NewReader(cfg Config, sink Sink, obs types.Observer) (*Reader, error) {
	if err := CheckPath(cfg.Path); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("tail: nil sink")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Reader{cfg: cfg, sink: sink, obs: obs}
	if err := r.openInitial(); err != nil {
		return nil, err
	}
	r.publish()
	return r, nil
}

// openInitial opens the file if present and computes the start offset.
func (r *Reader) openInitial() error {
	f, ident, size, err := openFile(r.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		r.missing = true
		types.Emit(r.obs, types.EventFileMissing, map[string]any{"path": r.cfg.Path})
		return nil
	}
	if err != nil {
		return types.NewConfigError("file_path", err)
	}

	offset := StartOffset(size, r.cfg.FromStart, r.cfg.TailBytes)
	if r.cfg.AlignLines && offset > 0 && offset < size {
		offset = alignOffset(f, offset, size)
	}

	r.file, r.ident, r.offset = f, ident, offset
	types.Emit(r.obs, types.EventFileOpened, map[string]any{
		"path":   r.cfg.Path,
		"size":   size,
		"offset": offset,
	})
	return nil
}

// StartOffset computes the initial offset for a file of the given size.
// FromStart wins over tailBytes.
func StartOffset(size int64, fromStart bool, tailBytes uint64) int64 {
	switch {
	case fromStart:
		return 0
	case tailBytes == 0:
		return size
	case tailBytes >= uint64(size):
		return 0
	default:
		return size - int64(tailBytes)
	}
}

// alignOffset moves offset to just past the next newline within
// alignWindow bytes, or failing that to the next UTF-8 rune start.
func alignOffset(f *os.File, offset, size int64) int64 {
	n := min(int64(alignWindow), size-offset)
	buf := make([]byte, n)
	got, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return offset
	}
	buf = buf[:got]
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		return offset + int64(i) + 1
	}
	for i, b := range buf {
		if utf8.RuneStart(b) {
			return offset + int64(i)
		}
	}
	return offset
}

// Poll runs one detection and read cycle.
// Transient file conditions are handled internally and reported as events.
// Only cancellation or a closed sink is returned as an error.
func (r *Reader) Poll(ctx context.Context) error {
	defer r.publish()
	r.lastPoll = r.cfg.Now()

	if r.file == nil {
		if !r.reopen() {
			return nil
		}
	}

	pathIdent, _, err := statPath(r.cfg.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Rotated away and not yet recreated. Finish what the old
		// handle holds, then wait for the path to come back.
		if err := r.drain(ctx); err != nil {
			return err
		}
		r.closeFile()
		// The inode may be reused by whatever appears next.
		r.ident = FileIdentity{}
		r.markMissing()
		return nil
	case err != nil:
		r.readFailed(err)
		return nil
	}

	if !pathIdent.Same(r.ident) {
		if err := r.drain(ctx); err != nil {
			return err
		}
		old := r.ident
		r.closeFile()
		if !r.reopen() {
			return nil
		}
		types.Emit(r.obs, types.EventFileRotated, map[string]any{
			"path":         r.cfg.Path,
			"old_identity": old.String(),
			"new_identity": r.ident.String(),
		})
	}

	_, size, err := statFile(r.file)
	if err != nil {
		r.readFailed(err)
		return nil
	}

	if size < r.offset {
		types.Emit(r.obs, types.EventFileTruncated, map[string]any{
			"path":       r.cfg.Path,
			"old_offset": r.offset,
			"size":       size,
		})
		r.offset = 0
		r.epoch++
	}

	if err := r.readTo(ctx, size); err != nil {
		return err
	}
	if r.file != nil {
		r.failing = false
	}
	return nil
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
// A *WatchError is reported and the source kept. Any other source
// failure makes Run fall back to polling.
func (r *Reader) Run(ctx context.Context, src ChangeSource) error {
	defer iox.DiscardClose(r)
	types.Emit(r.obs, types.EventTailStarted, map[string]any{
		"path":   r.cfg.Path,
		"offset": r.offset,
	})
	defer types.Emit(r.obs, types.EventTailStopped, map[string]any{"path": r.cfg.Path})

	for {
		if err := r.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if _, err := src.WaitForChange(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var we *WatchError
			if errors.As(err, &we) {
				types.Emit(r.obs, types.EventWatchError, map[string]any{"error": we.Err.Error()})
				continue
			}
			types.Emit(r.obs, types.EventWatchFallback, map[string]any{"error": err.Error()})
			_ = src.Close()
			src = NewPollSource(DefaultPollInterval)
		}
	}
}

// State returns a snapshot of the reader's position.
// Safe to call from any goroutine.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Close releases the file handle.
func (r *Reader) Close() error {
	r.closeFile()
	r.publish()
	return nil
}

// reopen opens the path. A different file than the last one held starts
// at offset 0; the same file resumes at the current offset.
// Returns false if the file is still absent or unreadable.
func (r *Reader) reopen() bool {
	f, ident, size, err := openFile(r.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		r.markMissing()
		return false
	}
	if err != nil {
		r.readFailed(err)
		return false
	}
	same := !r.ident.IsZero() && ident.Same(r.ident)
	r.file, r.ident = f, ident
	if !same {
		r.offset = 0
		r.epoch++
	}
	r.missing = false
	types.Emit(r.obs, types.EventFileOpened, map[string]any{
		"path":   r.cfg.Path,
		"size":   size,
		"offset": r.offset,
	})
	return true
}

// drain reads the open handle to its current EOF.
func (r *Reader) drain(ctx context.Context) error {
	if r.file == nil {
		return nil
	}
	_, size, err := statFile(r.file)
	if err != nil {
		return nil
	}
	if size < r.offset {
		return nil
	}
	return r.readTo(ctx, size)
}

// readTo pushes [offset, size) in chunks, advancing the offset after
// each accepted push so the offset always equals bytes delivered.
func (r *Reader) readTo(ctx context.Context, size int64) error {
	for r.offset < size {
		n := min(int64(r.cfg.ChunkSize), size-r.offset)
		buf := make([]byte, n)
		got, err := r.file.ReadAt(buf, r.offset)
		if err != nil && !errors.Is(err, io.EOF) {
			r.readFailed(err)
			return nil
		}
		if got == 0 {
			// Shrunk underneath us; the next cycle sees the truncation.
			return nil
		}

		c := queue.Chunk{Data: buf[:got], Offset: r.offset, Epoch: r.epoch}
		if err := r.push(ctx, c); err != nil {
			return err
		}
		r.offset += int64(got)
		types.Emit(r.obs, types.EventChunkQueued, map[string]any{
			"offset": c.Offset,
			"bytes":  got,
		})
		if int64(got) < n {
			return nil
		}
	}
	return nil
}

// push hands c to the sink, waiting for room if needed. The first push
// that has to wait reports queue_full; a later prompt push re-arms it.
func (r *Reader) push(ctx context.Context, c queue.Chunk) error {
	ok, err := r.sink.TryPush(c)
	if err != nil {
		return err
	}
	if ok {
		r.full = false
		return nil
	}
	if !r.full {
		r.full = true
		types.Emit(r.obs, types.EventQueueFull, map[string]any{
			"offset": c.Offset,
			"bytes":  len(c.Data),
		})
	}
	return r.sink.Push(ctx, c)
}

// readFailed drops the handle so the next cycle reopens the path.
// The identity is kept, so reopening the same file resumes in place.
// A persistent error is reported once until a poll cycle completes cleanly.
func (r *Reader) readFailed(err error) {
	if !r.failing {
		r.failing = true
		types.Emit(r.obs, types.EventFileReadError, map[string]any{
			"path":  r.cfg.Path,
			"error": err.Error(),
		})
	}
	r.closeFile()
}

func (r *Reader) markMissing() {
	if r.missing {
		return
	}
	r.missing = true
	types.Emit(r.obs, types.EventFileMissing, map[string]any{"path": r.cfg.Path})
}

func (r *Reader) closeFile() {
	if r.file == nil {
		return
	}
	_ = r.file.Close()
	r.file = nil
}

func (r *Reader) publish() {
	r.mu.Lock()
	r.snap = State{
		Path:     r.cfg.Path,
		Identity: r.ident,
		Offset:   r.offset,
		Epoch:    r.epoch,
		LastPoll: r.lastPoll,
		Open:     r.file != nil,
	}
	r.mu.Unlock()
}

// openFile opens path read-only and returns its identity and size.
// Directories are rejected.
func openFile(path string) (*os.File, FileIdentity, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, FileIdentity{}, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, FileIdentity{}, 0, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, FileIdentity{}, 0, fmt.Errorf("%s is a directory", path)
	}
	ident, size, err := statFile(f)
	if err != nil {
		_ = f.Close()
		return nil, FileIdentity{}, 0, err
	}
	return f, ident, size, nil
}
