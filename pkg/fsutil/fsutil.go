// Package fsutil is the atomic file-content store shared by the installer
// and lockfile writer: atomic writes (temp sibling, fsync, rename), SHA-256
// checksums, recursive directory copy for skill bundles, and a structured
// operation context so failures surface an actionable message instead of a
// bare OS error.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/aig787/agpm-sub009/pkg/logger"
)

var fsLog = logger.New("fsutil")

// OperationKind names the kind of filesystem operation a FileOperationContext
// describes, used to shape the suggestion attached to a failure.
type OperationKind string

const (
	OpRead    OperationKind = "read"
	OpWrite   OperationKind = "write"
	OpCopyDir OperationKind = "copy-dir"
	OpRemove  OperationKind = "remove"
	OpMkdir   OperationKind = "mkdir"
)

// FileOperationContext carries enough detail about a filesystem operation
// that a failure can be rendered as an actionable message: what was being
// done, to which path, why, by what caller, and what else was involved.
type FileOperationContext struct {
	Operation    OperationKind
	Path         string
	Purpose      string
	Caller       string
	RelatedPaths []string
}

// FileOperationError wraps an underlying OS error with the context needed to
// render a user-facing, suggestion-bearing message (spec error taxonomy's
// FileOperationError kind).
type FileOperationError struct {
	Context FileOperationContext
	Err     error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Context.Operation, e.Context.Path, e.Err)
}

func (e *FileOperationError) Unwrap() error {
	return e.Err
}

// Suggestion derives a one-line, actionable hint from the underlying error,
// matching the FileOperationError kinds named in spec.md §7.
func (e *FileOperationError) Suggestion() string {
	switch {
	case os.IsNotExist(e.Err):
		return fmt.Sprintf("check that %s exists and the path is spelled correctly", e.Context.Path)
	case os.IsPermission(e.Err):
		return fmt.Sprintf("check file permissions on %s", e.Context.Path)
	default:
		return ""
	}
}

func wrap(ctx FileOperationContext, err error) error {
	if err == nil {
		return nil
	}
	return &FileOperationError{Context: ctx, Err: err}
}

// Checksum computes the file-content checksum used throughout the lockfile
// and installer: "sha256:" followed by lowercase hex over the file bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ChecksumMatches reports whether the file at path already has the given
// Checksum, so a caller can skip re-writing unchanged content. A missing
// file never matches. Any other read failure is returned as an error rather
// than treated as a mismatch, since a permission error shouldn't silently
// trigger an overwrite attempt.
func ChecksumMatches(path, checksum string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return Checksum(data) == checksum, nil
}

// ReadFile reads path fully, wrapping any failure in a FileOperationContext.
func ReadFile(path, purpose, caller string) ([]byte, error) {
	ctx := FileOperationContext{Operation: OpRead, Path: path, Purpose: purpose, Caller: caller}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return data, nil
}

// AtomicWrite writes data to path by writing to a temp sibling in the same
// directory, fsyncing it, then renaming over the destination. A failure at
// any step leaves the original file (if any) untouched. perm is applied to
// the temp file before rename so the final file carries the intended mode.
func AtomicWrite(path string, data []byte, perm os.FileMode, purpose, caller string) error {
	ctx := FileOperationContext{Operation: OpWrite, Path: path, Purpose: purpose, Caller: caller}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrap(FileOperationContext{Operation: OpMkdir, Path: dir, Purpose: purpose, Caller: caller}, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return wrap(ctx, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return wrap(ctx, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return wrap(ctx, err)
	}
	if err := tmp.Close(); err != nil {
		return wrap(ctx, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return wrap(ctx, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return wrap(ctx, err)
	}

	fsLog.Printf("atomic write: %s (%d bytes, purpose=%s)", path, len(data), purpose)
	return nil
}

// CopyDir recursively copies src to dst, removing any existing contents of
// dst first so directory-valued (skill) installs start from a clean slate.
// Symlinks are not followed (copied as-is is rejected upstream by C1's
// symlink check before this is ever called on an untrusted local source).
func CopyDir(src, dst, purpose, caller string) error {
	ctx := FileOperationContext{Operation: OpCopyDir, Path: dst, Purpose: purpose, Caller: caller, RelatedPaths: []string{src}}

	if err := os.RemoveAll(dst); err != nil {
		return wrap(FileOperationContext{Operation: OpRemove, Path: dst, Purpose: purpose, Caller: caller}, err)
	}
	if err := copy.Copy(src, dst); err != nil {
		return wrap(ctx, err)
	}
	fsLog.Printf("copied directory %s -> %s", src, dst)
	return nil
}

// DirStats accumulates size and file-count totals, used to enforce the
// installer's skill-bundle limits (default 100 MiB, 1000 files).
type DirStats struct {
	TotalBytes int64
	FileCount  int
}

// WalkDirStats walks root and returns its total size and file count.
func WalkDirStats(root string) (DirStats, error) {
	var stats DirStats
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			stats.FileCount++
			stats.TotalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return DirStats{}, wrap(FileOperationContext{Operation: OpRead, Path: root}, err)
	}
	return stats, nil
}

// CopyFile copies a single file's bytes from src to dst verbatim, streaming
// through io.Copy rather than reading the whole file into memory.
func CopyFile(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
