// Package backup archives the hubnet state database and configuration as a
// tar.gz, and restores such an archive.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// DBName is the archive member holding the state database.
const DBName = "hubnet.db"

// maxMember bounds a single extracted file.
const maxMember = 64 << 20

// Backup writes an archive with a consistent snapshot of the database at
// dbPath and, when it exists, the config file at configPath. The running
// daemon may keep writing while the snapshot is taken.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}

	tmp, err := os.MkdirTemp("", "hubnet-backup-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	snap := filepath.Join(tmp, DBName)
	if err := snapshot(ctx, dbPath, snap); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	err = addFile(tw, snap, DBName)
	if err == nil && configPath != "" {
		if _, serr := os.Stat(configPath); serr == nil {
			err = addFile(tw, configPath, filepath.Base(configPath))
		}
	}
	return errors.Join(err, tw.Close(), gw.Close(), out.Close())
}

// snapshot copies the live database into dst with VACUUM INTO.
func snapshot(ctx context.Context, src, dst string) error {
	db, err := sql.Open("sqlite", src)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, "VACUUM INTO '"+strings.ReplaceAll(dst, "'", "''")+"'")
	return err
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Restore extracts archive into dir. Existing files are kept unless force
// is set. The daemon must not be running.
func Restore(_ context.Context, archive, dir string, force bool) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var restored []string
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(hdr.Name)
		if name != hdr.Name || strings.HasPrefix(name, ".") {
			return restored, fmt.Errorf("refusing archive member %q", hdr.Name)
		}
		target := filepath.Join(dir, name)
		if err := extract(tr, target, hdr.Size, force); err != nil {
			return restored, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func extract(r io.Reader, target string, size int64, force bool) error {
	if size > maxMember {
		return fmt.Errorf("%s: member too large (%d bytes)", filepath.Base(target), size)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if force {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(target, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s exists (use force to overwrite)", target)
		}
		return err
	}
	_, err = io.Copy(out, io.LimitReader(r, size))
	return errors.Join(err, out.Close())
}
