// Package workspace encodes the on-disk convention shared with the solver
// and the post-processing scripts: one folder per project protocol, one
// sub-folder per (P, L) matrix cell and a template store next to it.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"tyre-matrix/internal/matrix"
)

const (
	DeckExt        = ".inp"
	ArtifactExt    = ".odb"
	ParameterFile  = "parameters.inc"
	LogFile        = "run.log"
	TydexTemplates = "tydex"
	SharedSources  = "shared"
)

// Layout resolves paths under a workspace root and a template store.
type Layout struct {
	Fs        afero.Fs
	Root      string
	Templates string
}

// New returns a Layout over fs. A nil fs means the real filesystem.
func New(fsys afero.Fs, root, templates string) *Layout {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Layout{Fs: fsys, Root: root, Templates: templates}
}

func (l *Layout) ProtocolDir(projectID, protocol string) string {
	return filepath.Join(l.Root, projectID, protocol)
}

func (l *Layout) CellDir(projectID, protocol string, cell matrix.Cell) string {
	return filepath.Join(l.ProtocolDir(projectID, protocol), cell.Folder())
}

func (l *Layout) LogPath(projectID, protocol string) string {
	return filepath.Join(l.ProtocolDir(projectID, protocol), LogFile)
}

// DeckPath is the input deck of job inside dir.
func DeckPath(dir, job string) string { return filepath.Join(dir, job+DeckExt) }

// ArtifactName is the solver's primary output file name for job.
func ArtifactName(job string) string { return job + ArtifactExt }

func (l *Layout) DeckTemplatePath(protocol, job string) string {
	return filepath.Join(l.Templates, protocol, job+DeckExt)
}

// TydexTemplatePath resolves a Tydex template name; ".tdx" is assumed when the name has no extension.
func (l *Layout) TydexTemplatePath(name string) string {
	if filepath.Ext(name) == "" {
		name += ".tdx"
	}
	return filepath.Join(l.Templates, TydexTemplates, name)
}

func (l *Layout) SharedPath(name string) string {
	return filepath.Join(l.Templates, SharedSources, name)
}

// Exists reports whether path exists as a regular file.
func (l *Layout) Exists(path string) bool {
	info, err := l.Fs.Stat(path)
	return err == nil && !info.IsDir()
}

// ParameterFilePath returns the parameter include-file for a cell. The cell
// folder wins; the protocol folder above it is where the post-processors
// look, so it is accepted as a fallback.
func (l *Layout) ParameterFilePath(cellDir string) (string, bool) {
	for _, dir := range []string{cellDir, filepath.Dir(cellDir)} {
		p := filepath.Join(dir, ParameterFile)
		if l.Exists(p) {
			return p, true
		}
	}
	return filepath.Join(cellDir, ParameterFile), false
}

// SeedDeck makes sure dir holds job's input deck, copying it from the
// protocol template store when absent. It reports whether a copy happened.
// A deck missing from both places yields an error wrapping fs.ErrNotExist.
func (l *Layout) SeedDeck(protocol, dir, job string) (bool, error) {
	deck := DeckPath(dir, job)
	if l.Exists(deck) {
		return false, nil
	}
	src := l.DeckTemplatePath(protocol, job)
	if !l.Exists(src) {
		return false, fmt.Errorf("deck %s not in %s or template store: %w", filepath.Base(deck), dir, fs.ErrNotExist)
	}
	if err := l.copyFile(src, deck); err != nil {
		return false, fmt.Errorf("seed deck %s: %w", job, err)
	}
	return true, nil
}

// CopyShared copies a shared source (subroutine or script) into dir,
// overwriting any previous copy, and returns the destination path.
func (l *Layout) CopyShared(name, dir string) (string, error) {
	src := l.SharedPath(name)
	if !l.Exists(src) {
		return "", fmt.Errorf("shared source %s: %w", name, fs.ErrNotExist)
	}
	dst := filepath.Join(dir, filepath.Base(name))
	if err := l.copyFile(src, dst); err != nil {
		return "", fmt.Errorf("copy shared source %s: %w", name, err)
	}
	return dst, nil
}

func (l *Layout) copyFile(src, dst string) error {
	in, err := l.Fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := l.Fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := l.Fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// WriteFileAtomic writes data next to path and renames it into place, so
// readers never observe a partially written file.
func (l *Layout) WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := l.Fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(l.Fs, dir, "."+strings.TrimPrefix(filepath.Base(path), ".")+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		l.Fs.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		l.Fs.Remove(name)
		return err
	}
	if err := l.Fs.Rename(name, path); err != nil {
		l.Fs.Remove(name)
		return err
	}
	return nil
}
