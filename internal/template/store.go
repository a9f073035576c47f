package template

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

//go:embed assets/*.html
var embedded embed.FS

const fileExtension = ".html"

// Store resolves template names to bodies.
type Store interface {
	Load(ctx context.Context, name domain.TemplateName) (string, error)
	List(ctx context.Context) ([]domain.TemplateInfo, error)
}

// FSStore reads template bodies from a file system on every Load.
type FSStore struct {
	fsys fs.FS
}

func NewFSStore(fsys fs.FS) *FSStore {
	return &FSStore{fsys: fsys}
}

// NewEmbeddedStore serves the templates compiled into the binary.
func NewEmbeddedStore() *FSStore {
	sub, err := fs.Sub(embedded, "assets")
	if err != nil {
		panic(fmt.Sprintf("embedded templates: %v", err))
	}
	return NewFSStore(sub)
}

// NewDirStore serves templates from dir, or the embedded set when dir is empty.
func NewDirStore(dir string) (*FSStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return NewEmbeddedStore(), nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template dir %q is not a directory", dir)
	}

	return NewFSStore(os.DirFS(dir)), nil
}

func (s *FSStore) Load(ctx context.Context, name domain.TemplateName) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !name.IsValid() {
		return "", fmt.Errorf("%w: %q", domain.ErrTemplateNotFound, name)
	}

	body, err := fs.ReadFile(s.fsys, name.String()+fileExtension)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", domain.ErrTemplateNotFound, name)
		}
		return "", fmt.Errorf("failed to read template %q: %w", name, err)
	}

	return string(body), nil
}

// List returns the allowed templates that have a backing document.
func (s *FSStore) List(ctx context.Context) ([]domain.TemplateInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos := make([]domain.TemplateInfo, 0, len(domain.TemplateNames()))
	for _, name := range domain.TemplateNames() {
		if _, err := fs.Stat(s.fsys, name.String()+fileExtension); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat template %q: %w", name, err)
		}
		infos = append(infos, domain.TemplateInfo{Name: name, DisplayName: name.DisplayName()})
	}

	return infos, nil
}
