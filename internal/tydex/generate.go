package tydex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"tyre-matrix/internal/ctxlog"
	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/params"
	"tyre-matrix/internal/workspace"
)

// Document is a rendered Tydex file written into a cell folder.
type Document struct {
	Name       string
	Path       string
	Template   string
	Content    []byte
	Rows       int
	Unresolved []string
}

// Codec renders the Tydex document of a matrix row and writes it into the row's cell folder.
type Codec struct {
	layout   *workspace.Layout
	renderer *Renderer
}

func NewCodec(layout *workspace.Layout, header HeaderConfig, now func() time.Time) *Codec {
	return &Codec{layout: layout, renderer: NewRenderer(header, now)}
}

// OutputName is the document file name for run: its Tydex name, or the job name with ".tdx".
func OutputName(run matrix.TestRun) string {
	if !matrix.IsNone(run.TydexName) {
		return strings.TrimSpace(run.TydexName)
	}
	return strings.TrimSpace(run.Job) + ".tdx"
}

// Generate renders run and replaces any previous document of the same
// name. The file is only written once rendering fully succeeded.
func (c *Codec) Generate(ctx context.Context, m matrix.Matrix, run matrix.TestRun) (Document, error) {
	ctx, logger := ctxlog.With(ctx, "run", run.Number, "job", run.Job)

	name := strings.TrimSpace(run.TydexTemplate)
	if matrix.IsNone(name) {
		return Document{}, &TemplateNotFoundError{Template: run.TydexTemplate}
	}
	tmplPath := c.layout.TydexTemplatePath(name)
	tmpl, err := afero.ReadFile(c.layout.Fs, tmplPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, &TemplateNotFoundError{Template: name, Path: tmplPath}
		}
		return Document{}, fmt.Errorf("read tydex template %s: %w", tmplPath, err)
	}

	cellDir := c.layout.CellDir(m.ProjectID, m.Protocol, run.Cell())
	paramPath, ok := c.layout.ParameterFilePath(cellDir)
	if !ok {
		return Document{}, &ParameterFileUnreadableError{Path: paramPath, Err: fs.ErrNotExist}
	}
	set, err := params.Load(ctx, c.layout.Fs, paramPath)
	if err != nil {
		return Document{}, &ParameterFileUnreadableError{Path: paramPath, Err: err}
	}

	res, err := c.renderer.Render(ctx, tmpl, Input{
		Run:    run,
		Params: set,
		MeasID: strings.TrimSpace(run.Job),
		Series: NewDirReader(c.layout.Fs, cellDir),
	})
	if err != nil {
		return Document{}, fmt.Errorf("render tydex for run %d: %w", run.Number, err)
	}

	doc := Document{
		Name:       OutputName(run),
		Template:   name,
		Content:    res.Content,
		Rows:       res.Rows,
		Unresolved: res.Unresolved,
	}
	doc.Path = filepath.Join(cellDir, doc.Name)
	if err := c.layout.WriteFileAtomic(doc.Path, doc.Content); err != nil {
		return Document{}, fmt.Errorf("write tydex %s: %w", doc.Path, err)
	}
	logger.Info("Tydex document written.", "path", doc.Path, "rows", doc.Rows, "unresolved", len(doc.Unresolved))
	return doc, nil
}
