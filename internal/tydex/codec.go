// Package tydex renders Tydex measurement documents from a section
// template, the scalar fields of one matrix row and the per-channel CSV
// extracts the post-processors leave in the cell folder.
//
// Rendering is two passes over the template. The first rewrites known
// HEADER and CONSTANTS values and records the MEASURCHANNELS column order.
// The second binds every channel to its extract and regenerates MEASURDATA
// from the template's example data line. Everything else is copied through
// unchanged.
package tydex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strconv"
	"strings"
	"time"

	"tyre-matrix/internal/ctxlog"
	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/params"
)

// Section names recognized in templates.
const (
	SectionHeader       = "HEADER"
	SectionConstants    = "CONSTANTS"
	SectionMeasChannels = "MEASURCHANNELS"
	SectionMeasData     = "MEASURDATA"
)

const (
	dateLayout  = "02-Jan-2006"
	clockLayout = "15:04:05"

	psiToPascal          = 6894.76
	kmhToMetresPerSecond = 1000.0 / 3600.0
	millimetresPerMetre  = 1000.0
	percentPerFraction   = 100.0
)

// HeaderConfig holds the organisational HEADER values.
type HeaderConfig struct {
	Supplier     string
	Location     string
	Manufacturer string
	// ClockSuffix is appended to the local clock time, e.g. "+05:30".
	ClockSuffix string
}

// Input is everything one rendering depends on.
type Input struct {
	Run    matrix.TestRun
	Params params.Set
	// MeasID is written to the MEASID header field, normally the job name.
	MeasID string
	Series SeriesReader
}

// Result is a rendered document.
type Result struct {
	Content []byte
	Rows    int
	// Unresolved lists bound channels whose extract was absent; their columns keep the template token.
	Unresolved []string
}

// Renderer renders templates. It is stateless apart from its clock.
type Renderer struct {
	header HeaderConfig
	now    func() time.Time
}

func NewRenderer(header HeaderConfig, now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{header: header, now: now}
}

type measData struct {
	headerIdx int
	// protoIdx is where the generated rows go in the output.
	protoIdx  int
	proto     *line
	eol       string
}

// Render substitutes in into template. Nothing is written anywhere.
func (r *Renderer) Render(ctx context.Context, template []byte, in Input) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	now := r.now()

	var (
		out      []string
		channels []string
		section  string
		data     *measData
	)
	for _, raw := range splitLines(string(template)) {
		body, eol := cutEOL(raw)
		if strings.HasPrefix(body, "**") {
			section = sectionName(body)
			if section == SectionMeasData {
				data = &measData{headerIdx: len(out), protoIdx: len(out) + 1, eol: eol}
			}
			out = append(out, raw)
			continue
		}
		trimmed := strings.TrimSpace(body)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") {
			out = append(out, raw)
			continue
		}

		l := tokenize(body)
		switch section {
		case SectionHeader:
			if v, ok := r.headerValue(l.first(), in.MeasID, now); ok && l.setLast(v) {
				raw = l.String() + eol
			}
		case SectionConstants:
			if v, ok := constantValue(l.first(), in); ok && l.setLast(v) {
				raw = l.String() + eol
			}
		case SectionMeasChannels:
			channels = append(channels, l.first())
		case SectionMeasData:
			// Data lines are regenerated; the first one is the row prototype.
			if data.proto == nil {
				data.proto = &l
				data.protoIdx = len(out)
				data.eol = eol
			}
			continue
		}
		out = append(out, raw)
	}

	res := Result{}
	if data != nil {
		if data.proto == nil && len(channels) > 0 {
			return Result{}, errors.New("MEASURDATA section has no example data line")
		}
		cols, rows, unresolved, err := bindChannels(channels, in)
		if err != nil {
			return Result{}, err
		}
		for _, name := range unresolved {
			logger.Warn("Channel unresolved, keeping template values.", "channel", name)
		}
		res.Rows = rows
		res.Unresolved = unresolved

		generated := make([]string, 0, rows)
		for row := 0; row < rows; row++ {
			l := data.proto.clone()
			for i, col := range cols {
				if v, ok := col.value(row); ok {
					l.setAt(i, v)
				}
			}
			generated = append(generated, l.String()+data.eol)
		}
		out[data.headerIdx] = rewriteCount(out[data.headerIdx], rows)
		tail := append(generated, out[data.protoIdx:]...)
		out = append(out[:data.protoIdx], tail...)
	}

	res.Content = []byte(strings.Join(out, ""))
	return res, nil
}

func sectionName(body string) string {
	f := strings.Fields(strings.TrimPrefix(body, "**"))
	if len(f) == 0 {
		return ""
	}
	return strings.ToUpper(f[0])
}

func (r *Renderer) headerValue(name, measID string, now time.Time) (string, bool) {
	switch strings.ToUpper(name) {
	case "DATE":
		return now.Format(dateLayout), true
	case "CLCKTIME":
		return now.Format(clockLayout) + r.header.ClockSuffix, true
	case "SUPPLIER":
		return r.header.Supplier, r.header.Supplier != ""
	case "LOCATION":
		return r.header.Location, r.header.Location != ""
	case "MANUFACT":
		return r.header.Manufacturer, r.header.Manufacturer != ""
	case "MEASID":
		return measID, measID != ""
	}
	return "", false
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func fromRun(v *float64, conv func(float64) float64, prec int) (string, bool) {
	if v == nil {
		return "", false
	}
	return formatFloat(conv(*v), prec), true
}

func fromParam(p params.Set, name string, conv func(float64) float64, prec int) (string, bool) {
	v, ok := p.Get(name)
	if !ok {
		return "", false
	}
	return formatFloat(conv(v), prec), true
}

func mmToM(v float64) float64             { return v / millimetresPerMetre }
func degToRad(v float64) float64          { return v * math.Pi / 180 }
func identity(v float64) float64          { return v }
func percentToFraction(v float64) float64 { return v / percentPerFraction }

// constantValue converts a CONSTANTS field from this row's own values. A
// value the row or parameter file does not carry is never guessed.
func constantValue(name string, in Input) (string, bool) {
	run := in.Run
	switch strings.ToUpper(name) {
	case "OUTDIAME":
		return fromParam(in.Params, "outer_diameter", mmToM, 4)
	case "RIMDIAME":
		return fromParam(in.Params, "rim_diameter", mmToM, 4)
	case "TYREWIDT":
		return fromParam(in.Params, "section_width", mmToM, 4)
	case "INFLPRES":
		return fromRun(run.Pressure, func(v float64) float64 { return math.Round(v * psiToPascal) }, 0)
	case "FZW":
		return fromRun(run.Load, identity, 1)
	case "LONGVEL":
		return fromRun(run.Velocity, func(v float64) float64 { return v * kmhToMetresPerSecond }, 4)
	case "INCLANGL":
		return fromRun(run.Inclination, degToRad, 6)
	case "SLIPANGL":
		return fromRun(run.SlipAngle, degToRad, 6)
	case "LONGSLIP":
		return fromRun(run.SlipRatio, percentToFraction, 4)
	}
	return "", false
}

// column is one MEASURDATA column's values.
type column struct {
	sequence  bool
	values    []float64
	precision int
}

func (c column) value(row int) (string, bool) {
	if c.sequence {
		return strconv.Itoa(row + 1), true
	}
	if row >= len(c.values) {
		return "", false
	}
	return formatFloat(c.values[row], c.precision), true
}

func bindChannels(names []string, in Input) ([]column, int, []string, error) {
	cols := make([]column, len(names))
	var unresolved []string
	rows := 0
	for i, name := range names {
		if strings.EqualFold(name, MeasNumb) {
			cols[i] = column{sequence: true}
			continue
		}
		src, ok := LookupChannel(name)
		if !ok {
			return nil, 0, nil, &ChannelSourceNotFoundError{Channel: name}
		}
		if in.Series == nil {
			unresolved = append(unresolved, name)
			continue
		}
		raw, err := in.Series.Series(src.File, src.Column)
		if errors.Is(err, fs.ErrNotExist) {
			unresolved = append(unresolved, name)
			continue
		}
		if err != nil {
			return nil, 0, nil, fmt.Errorf("channel %s: %w", name, err)
		}
		values, ok := derive(src, raw, in.Params)
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}
		cols[i] = column{values: values, precision: src.Precision}
		rows = max(rows, len(values))
	}
	return cols, rows, unresolved, nil
}

func derive(src ChannelSource, raw []float64, p params.Set) ([]float64, bool) {
	if src.Derive == nil {
		return raw, true
	}
	values := make([]float64, len(raw))
	for i, v := range raw {
		d, err := src.Derive(v, p)
		if err != nil {
			return nil, false
		}
		values[i] = d
	}
	return values, true
}

// rewriteCount sets the row count on the MEASURDATA header line, appending
// it when the line carries none.
func rewriteCount(raw string, rows int) string {
	body, eol := cutEOL(raw)
	l := tokenize(body)
	n := strconv.Itoa(rows)
	if len(l.fields) > 1 {
		if _, err := strconv.Atoi(l.fields[len(l.fields)-1].text); err == nil {
			l.setLast(n)
			return l.String() + eol
		}
	}
	return strings.TrimRight(body, " \t") + " " + n + eol
}
