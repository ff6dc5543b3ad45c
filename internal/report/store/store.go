package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	"github.com/spf13/afero"
)

// FileStore keeps one report per (clinic, date) at <root>/<clinic>/<date>.pdf.
// Saving again overwrites the previous rendering.
type FileStore struct {
	fs   afero.Fs
	root string
}

func NewFileStore(fs afero.Fs, root string) *FileStore {
	return &FileStore{fs: fs, root: filepath.Clean(root)}
}

// Provide builds the store on the OS filesystem under REPORT_DIR.
func Provide(cfg config.Config) domain.Store {
	return NewFileStore(afero.NewOsFs(), cfg.ReportDir)
}

func (s *FileStore) Path(clinicID, date string) (string, error) {
	if !safeSegment(clinicID) || !safeSegment(date) {
		return "", domain.ErrInvalidPath
	}
	return filepath.Join(s.root, clinicID, date+".pdf"), nil
}

func (s *FileStore) Save(ctx context.Context, clinicID, date string, doc []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.Path(clinicID, date)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, doc, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}
	return path, nil
}

func (s *FileStore) Open(ctx context.Context, clinicID, date string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(clinicID, date)
	if err != nil {
		return nil, err
	}
	doc, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrReportNotFound
		}
		return nil, err
	}
	return doc, nil
}

func safeSegment(v string) bool {
	if v == "" || v == "." || v == ".." {
		return false
	}
	return !strings.ContainsAny(v, `/\`)
}
