// Package storage keeps invoice attachments on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"invoice-engine/internal/ids"
)

const DefaultSecondaryName = "adjunto.pdf"

var (
	ErrInvalidName = errors.New("storage: invalid file name")
	ErrNotFound    = errors.New("storage: file not found")
	ErrEmpty       = errors.New("storage: empty file")
)

// Files stores attachments under a single root directory.
type Files struct {
	root string
}

func NewFiles(root string) (*Files, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	return &Files{root: abs}, nil
}

func (f *Files) Root() string { return f.root }

// SaveIngested stores an attachment received by mail as
// yyyyMMdd_HHmmss_<id>_<original>. Empty attachments are kept; extraction
// yields no fields for them.
func (f *Files) SaveIngested(ctx context.Context, original string, r io.Reader, now time.Time) (string, error) {
	base := cleanBase(original)
	if base == "" {
		return "", ErrInvalidName
	}
	name := now.Format("20060102_150405") + "_" + ids.NewAt(now) + "_" + base
	return name, f.write(ctx, name, r, true)
}

// SaveSecondary stores a user upload as extra_<epochMillis>_<id>_<original>.
// A blank original name becomes DefaultSecondaryName and an empty body
// fails with ErrEmpty.
func (f *Files) SaveSecondary(ctx context.Context, original string, r io.Reader, now time.Time) (string, error) {
	base := cleanBase(original)
	if base == "" {
		base = DefaultSecondaryName
	}
	name := "extra_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + ids.NewAt(now) + "_" + base
	return name, f.write(ctx, name, r, false)
}

// Path resolves a stored name to an absolute path inside the root.
func (f *Files) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	return filepath.Join(f.root, name), nil
}

// Exists reports whether name is a regular file in the root.
func (f *Files) Exists(name string) bool {
	p, err := f.Path(name)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// Open opens a stored file for reading.
func (f *Files) Open(name string) (*os.File, error) {
	p, err := f.Path(name)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fh, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (f *Files) Remove(name string) error {
	p, err := f.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *Files) write(ctx context.Context, name string, r io.Reader, allowEmpty bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.root, 0o750); err != nil {
		return fmt.Errorf("storage: create root: %w", err)
	}
	p := filepath.Join(f.root, name)
	out, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", name, err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 && !allowEmpty {
		err = ErrEmpty
	}
	if err != nil {
		_ = os.Remove(p)
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return nil
}

// cleanBase strips directories from a client-supplied name.
func cleanBase(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}
