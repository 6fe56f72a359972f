// Package backup archives the game world directory into timestamped
// tar.gz files.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrNoWorld means the world directory does not exist yet.
	ErrNoWorld = errors.New("world directory not found")
	// ErrInProgress rejects a second backup while one is being written.
	ErrInProgress = errors.New("backup already in progress")
)

const (
	filePrefix = "hytale_"
	fileSuffix = ".tar.gz"
	stampFmt   = "20060102_150405"
)

// Archive describes one backup file. Names carry the UTC creation time.
type Archive struct {
	Name      string    `json:"name"`
	Size      string    `json:"size"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	// Entries is only known for archives written by this process.
	Entries int `json:"entries,omitempty"`
}

// Archiver writes backups of WorldDir into BackupDir. Archive members are
// rooted at the world directory's base name, e.g. "universe/...".
type Archiver struct {
	WorldDir  string
	BackupDir string
	Now       func() time.Time

	mu sync.Mutex
}

func New(worldDir, backupDir string) *Archiver {
	return &Archiver{WorldDir: worldDir, BackupDir: backupDir, Now: time.Now}
}

// Run writes a new archive. The file appears under its final name only once
// it is complete; a failed or cancelled run leaves nothing behind.
func (a *Archiver) Run(ctx context.Context) (Archive, error) {
	if !a.mu.TryLock() {
		return Archive{}, ErrInProgress
	}
	defer a.mu.Unlock()

	info, err := os.Stat(a.WorldDir)
	if err != nil || !info.IsDir() {
		return Archive{}, fmt.Errorf("%w: %s", ErrNoWorld, a.WorldDir)
	}
	if err := os.MkdirAll(a.BackupDir, 0o750); err != nil {
		return Archive{}, fmt.Errorf("create backup dir: %w", err)
	}

	now := a.now()
	name := filePrefix + now.UTC().Format(stampFmt) + fileSuffix
	tmp, err := os.CreateTemp(a.BackupDir, ".partial-*")
	if err != nil {
		return Archive{}, fmt.Errorf("create archive: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	entries, err := a.write(ctx, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return Archive{}, fmt.Errorf("write archive: %w", err)
	}

	final := filepath.Join(a.BackupDir, name)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return Archive{}, fmt.Errorf("finalize archive: %w", err)
	}
	st, err := os.Stat(final)
	if err != nil {
		return Archive{}, err
	}
	return Archive{
		Name:      name,
		Size:      humanize.IBytes(uint64(st.Size())),
		SizeBytes: st.Size(),
		CreatedAt: now.UTC(),
		Entries:   entries,
	}, nil
}

func (a *Archiver) write(ctx context.Context, w io.Writer) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	root := filepath.Base(filepath.Clean(a.WorldDir))
	skip := filepath.Clean(a.BackupDir)
	n := 0

	err := filepath.WalkDir(a.WorldDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() && filepath.Clean(path) == skip {
			return filepath.SkipDir
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil // sockets, fifos and devices are not world data
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(a.WorldDir, path)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(root, rel))
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		n++
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		_ = f.Close()
		return err
	})
	if err != nil {
		return n, err
	}
	if err := tw.Close(); err != nil {
		return n, err
	}
	return n, gz.Close()
}

// List returns existing archives, newest first. A missing backup directory
// is an empty list.
func (a *Archiver) List() ([]Archive, error) {
	entries, err := os.ReadDir(a.BackupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Archive{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []Archive{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		created := info.ModTime().UTC()
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if t, err := time.Parse(stampFmt, stamp); err == nil {
			created = t
		}
		out = append(out, Archive{
			Name:      name,
			Size:      humanize.IBytes(uint64(info.Size())),
			SizeBytes: info.Size(),
			CreatedAt: created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (a *Archiver) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
