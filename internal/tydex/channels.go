package tydex

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"tyre-matrix/internal/params"
)

// MeasNumb is the row-sequence pseudo-channel; it is synthesized, never read.
const MeasNumb = "MEASNUMB"

// ChannelSource binds a channel to one column of a CSV extract in the cell folder.
type ChannelSource struct {
	File      string
	Column    int
	Precision int
	// Derive turns a raw value into the channel value. Nil copies the value verbatim.
	Derive func(raw float64, p params.Set) (float64, error)
}

const (
	timeColumn  = 0
	valueColumn = 1
)

func verbatim(file string) ChannelSource {
	return ChannelSource{File: file, Column: valueColumn, Precision: 4}
}

// groundClearance is the loaded radius: half the outer diameter minus the
// rim's vertical displacement, in metres.
func groundClearance(u3 float64, p params.Set) (float64, error) {
	od, ok := p.Get("outer_diameter")
	if !ok {
		return 0, errors.New("parameter outer_diameter not set")
	}
	return (od/2 - u3) / 1000, nil
}

// channelTable binds every known channel name. Aliases share one extract.
var channelTable = func() map[string]ChannelSource {
	t := map[string]ChannelSource{
		"RUNTIME":  {File: "fz.csv", Column: timeColumn, Precision: 8},
		"DSTGRWHC": {File: "u3.csv", Column: valueColumn, Precision: 4, Derive: groundClearance},
	}
	for file, names := range map[string][]string{
		"fx.csv":       {"FX", "FCX"},
		"fy.csv":       {"FY", "FCY"},
		"fz.csv":       {"FZW", "FZ"},
		"mx.csv":       {"MXW", "MX"},
		"my.csv":       {"MYW", "MY"},
		"mz.csv":       {"MZW", "MZ"},
		"longslip.csv": {"LONGSLIP", "SLIPRAT"},
		"slipangl.csv": {"SLIPANGL", "ALPHA"},
		"inclangl.csv": {"INCLANGL", "GAMMA"},
	} {
		for _, n := range names {
			t[n] = verbatim(file)
		}
	}
	return t
}()

// LookupChannel returns the binding for a channel name, case-insensitively.
func LookupChannel(name string) (ChannelSource, bool) {
	src, ok := channelTable[strings.ToUpper(strings.TrimSpace(name))]
	return src, ok
}

// SeriesReader reads one numeric column of a channel extract. A missing
// extract yields an error wrapping fs.ErrNotExist.
type SeriesReader interface {
	Series(file string, column int) ([]float64, error)
}

// DirReader reads extracts from one cell folder. Each file is parsed once.
type DirReader struct {
	fs  afero.Fs
	dir string

	mu    sync.Mutex
	cache map[string][][]string
}

func NewDirReader(fsys afero.Fs, dir string) *DirReader {
	return &DirReader{fs: fsys, dir: dir, cache: map[string][][]string{}}
}

// Series returns the values of column in file. Rows whose column is absent
// or not numeric (headers, trailing notes) are skipped.
func (r *DirReader) Series(file string, column int) ([]float64, error) {
	records, err := r.records(file)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, rec := range records {
		if column >= len(rec) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[column]), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *DirReader) records(file string) ([][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.cache[file]; ok {
		return rec, nil
	}

	f, err := r.fs.Open(filepath.Join(r.dir, file))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		records = append(records, rec)
	}
	r.cache[file] = records
	return records, nil
}
