package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// BackupStore keeps settings backups as named files.
type BackupStore interface {
	Save(ctx context.Context, name string, reader io.Reader) (int64, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// AferoBackups stores backups under a directory of an afero filesystem.
type AferoBackups struct {
	fs  afero.Fs
	dir string
}

// NewAferoBackups creates a backup store rooted at dir on fs.
func NewAferoBackups(fs afero.Fs, dir string) *AferoBackups {
	return &AferoBackups{fs: fs, dir: dir}
}

func (s *AferoBackups) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return path.Join(s.dir, name), nil
}

// Save writes the content of reader to the named backup, replacing it.
func (s *AferoBackups) Save(_ context.Context, name string, reader io.Reader) (int64, error) {
	p, err := s.path(name)
	if err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return 0, err
	}
	f, err := s.fs.Create(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, reader)
}

// Get opens the named backup for reading.
func (s *AferoBackups) Get(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return s.fs.OpenFile(p, os.O_RDONLY, 0)
}

// Delete removes the named backup.
func (s *AferoBackups) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return s.fs.Remove(p)
}

// List returns the names of all backups, sorted.
func (s *AferoBackups) List(context.Context) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

var _ BackupStore = (*AferoBackups)(nil)
