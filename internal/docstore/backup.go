package docstore

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Backup streams a tar.gz snapshot of the entire state directory to w. All
// entries are rooted under the backupRoot name so Restore can validate them.
// Leftover archive files inside the state directory are excluded so a backup
// never swallows a previous backup.
//
// The snapshot is taken under the shared lock: document operations may run
// concurrently (the same residual risk as copying any live sqlite or index
// file), but a Restore cannot.
func (s *Store) Backup(ctx context.Context, w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(s.dataDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.dataDir, p)
		if err != nil {
			return err
		}
		if rel != "." && strings.HasSuffix(d.Name(), ".tar.gz") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		if rel == "." {
			hdr.Name = backupRoot + "/"
		} else {
			hdr.Name = path.Join(backupRoot, filepath.ToSlash(rel))
			if d.IsDir() {
				hdr.Name += "/"
			}
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

// Restore replaces the entire state directory with the contents of the
// uploaded tar.gz archive. Every entry must be rooted under the backupRoot
// name; one entry outside it rejects the whole archive before any existing
// state is touched.
//
// The archive is extracted into a staging directory first and swapped in
// whole, so a half-read archive can never leave a mixed old/new state. The
// swap closes and reopens the stores; Restore therefore excludes every other
// operation for its duration.
func (s *Store) Restore(ctx context.Context, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staging := s.dataDir + ".restore"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("restore: clear staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("restore: create staging: %w", err)
	}

	if err := s.extract(ctx, r, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}

	s.closeStores()

	old := s.dataDir + ".old"
	if err := os.RemoveAll(old); err != nil {
		s.reopen()
		return fmt.Errorf("restore: clear previous state: %w", err)
	}
	if err := os.Rename(s.dataDir, old); err != nil {
		s.reopen()
		return fmt.Errorf("restore: move current state aside: %w", err)
	}
	if err := os.Rename(staging, s.dataDir); err != nil {
		// Put the original state back before failing.
		if rbErr := os.Rename(old, s.dataDir); rbErr != nil {
			return fmt.Errorf("restore: swap failed (%v) and rollback failed: %w", err, rbErr)
		}
		s.reopen()
		return fmt.Errorf("restore: swap in new state: %w", err)
	}
	if err := os.RemoveAll(old); err != nil {
		s.logger.Warn("restore: could not remove old state", slog.String("path", old), slog.String("error", err.Error()))
	}

	if err := s.openStores(); err != nil {
		return fmt.Errorf("restore: reopen stores: %w", err)
	}

	s.logger.Info("restore complete", slog.String("data_dir", s.dataDir))
	return nil
}

// extract unpacks the archive into dir after validating every entry path.
func (s *Store) extract(ctx context.Context, r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("restore: %w: %v", ErrBadArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("restore: read archive: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := entryPath(hdr.Name)
		if err != nil {
			return err
		}
		if rel == "" {
			continue // the root directory entry itself
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			if err := writeEntry(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// Links and specials could point outside the state directory.
			return fmt.Errorf("%w: unsupported entry type for %q", ErrBadArchive, hdr.Name)
		}
	}
}

// entryPath validates an archive entry name and returns its path relative to
// the backup root. Every entry must resolve to backupRoot or below it.
func entryPath(name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if path.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute entry %q", ErrBadArchive, name)
	}
	if clean != backupRoot && !strings.HasPrefix(clean, backupRoot+"/") {
		return "", fmt.Errorf("%w: entry %q escapes root %q", ErrBadArchive, name, backupRoot)
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(clean, backupRoot), "/")
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: entry %q escapes root %q", ErrBadArchive, name, backupRoot)
	}
	return rel, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("restore: write %s: %w", target, err)
	}
	return f.Close()
}

// reopen restores store handles after a failed swap. Errors here leave the
// Store unusable and are logged; the caller already has the primary error.
func (s *Store) reopen() {
	if err := s.openStores(); err != nil {
		s.logger.Error("reopen after failed restore", slog.String("error", err.Error()))
	}
}
