package tydex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/params"
)

const sampleTemplate = `!:TYDEX-FORMAT
**HEADER
RELEASE   Release of TYDEX-Format       1.3
MEASID    Measurement ID                placeholder
SUPPLIER  Data Supplier                 nobody
DATE      Date                          01-Jan-2000
CLCKTIME  Clock time                    00:00:00
**CONSTANTS
OUTDIAME  Outer diameter      m         0.0000
INFLPRES  Inflation pressure  Pa        0
FZW       Vertical load       N         0.0
LONGVEL   Velocity            m/s       0.0000
SLIPANGL  Slip angle          rad       0.000000
TRACK     Track               -         unchanged
**MEASURCHANNELS
! name    description         unit      factor
MEASNUMB  Measurement number  -         1
RUNTIME   Running time        s         1
FX        Longitudinal force  N         1
FZW       Vertical load       N         1
**MEASURDATA 1
1   0.00000000   -1.0000   0.0000
**END
`

const sampleRendered = `!:TYDEX-FORMAT
**HEADER
RELEASE   Release of TYDEX-Format       1.3
MEASID    Measurement ID                job7
SUPPLIER  Data Supplier                 TyreLab
DATE      Date                          19-Oct-2026
CLCKTIME  Clock time                    14:05:09+05:30
**CONSTANTS
OUTDIAME  Outer diameter      m         0.6000
INFLPRES  Inflation pressure  Pa        206843
FZW       Vertical load       N         4000.0
LONGVEL   Velocity            m/s       10.0000
SLIPANGL  Slip angle          rad       0.000000
TRACK     Track               -         unchanged
**MEASURCHANNELS
! name    description         unit      factor
MEASNUMB  Measurement number  -         1
RUNTIME   Running time        s         1
FX        Longitudinal force  N         1
FZW       Vertical load       N         1
**MEASURDATA 3
1   0.00000000    12.5000   4000.0000
2   0.01000000    13.0000   4010.5000
3   0.00000000    -7.2500   0.0000
**END
`

// mapSeries serves series keyed by "file:column".
type mapSeries map[string][]float64

func (m mapSeries) Series(file string, column int) ([]float64, error) {
	v, ok := m[fmt.Sprintf("%s:%d", file, column)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", file, fs.ErrNotExist)
	}
	return v, nil
}

func fixedClock() time.Time {
	return time.Date(2026, time.October, 19, 14, 5, 9, 0, time.UTC)
}

func sampleInput() Input {
	return Input{
		Run: matrix.TestRun{
			Number:   7,
			Job:      "job7",
			Pressure: matrix.Float(30),
			Load:     matrix.Float(4000),
			Velocity: matrix.Float(36),
		},
		Params: params.Set{"outer_diameter": 600},
		MeasID: "job7",
		Series: mapSeries{
			"fz.csv:0": {0, 0.01},
			"fz.csv:1": {4000, 4010.5},
			"fx.csv:1": {12.5, 13, -7.25},
		},
	}
}

func newTestRenderer() *Renderer {
	return NewRenderer(HeaderConfig{Supplier: "TyreLab", ClockSuffix: "+05:30"}, fixedClock)
}

func TestRenderSample(t *testing.T) {
	res, err := newTestRenderer().Render(context.Background(), []byte(sampleTemplate), sampleInput())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if diff := cmp.Diff(sampleRendered, string(res.Content)); diff != "" {
		t.Errorf("rendered document mismatch (-want +got):\n%s", diff)
	}
	if res.Rows != 3 {
		t.Errorf("rows = %d, want 3", res.Rows)
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("unexpected unresolved channels %v", res.Unresolved)
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	r := newTestRenderer()
	first, err := r.Render(context.Background(), []byte(sampleTemplate), sampleInput())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := r.Render(context.Background(), []byte(sampleTemplate), sampleInput())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(first.Content) != string(second.Content) {
		t.Error("two renders of the same input differ")
	}
}

func TestConstantConversions(t *testing.T) {
	in := Input{
		Run: matrix.TestRun{
			Pressure:    matrix.Float(30),
			Load:        matrix.Float(4500),
			Velocity:    matrix.Float(80),
			Inclination: matrix.Float(-3),
			SlipAngle:   matrix.Float(90),
			SlipRatio:   matrix.Float(12.5),
		},
		Params: params.Set{"outer_diameter": 600, "rim_diameter": 406.4, "section_width": 205},
	}
	tests := map[string]string{
		"INFLPRES": "206843",
		"OUTDIAME": "0.6000",
		"RIMDIAME": "0.4064",
		"TYREWIDT": "0.2050",
		"FZW":      "4500.0",
		"LONGVEL":  "22.2222",
		"INCLANGL": "-0.052360",
		"SLIPANGL": "1.570796",
		"LONGSLIP": "0.1250",
	}
	for field, want := range tests {
		got, ok := constantValue(field, in)
		if !ok || got != want {
			t.Errorf("%s = %q (%v), want %q", field, got, ok, want)
		}
	}
}

func TestConstantMissingSourceKeepsToken(t *testing.T) {
	tmpl := "**CONSTANTS\nINFLPRES  Inflation pressure  Pa   150000\nOUTDIAME  Outer diameter  m  0.5000\n"
	res, err := newTestRenderer().Render(context.Background(), []byte(tmpl), Input{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(res.Content) != tmpl {
		t.Errorf("template changed without sources:\n%s", res.Content)
	}
}

func TestRenderRowCountFollowsLongestChannel(t *testing.T) {
	fx := make([]float64, 100)
	fy := make([]float64, 80)
	for i := range fx {
		fx[i] = float64(i)
	}
	for i := range fy {
		fy[i] = -float64(i)
	}
	tmpl := "**MEASURCHANNELS\nFX  Longitudinal force  N  1\nFY  Lateral force  N  1\n**MEASURDATA 2\n  9.9999  8.8888\n  9.9999  8.8888\n**END\n"
	in := Input{Series: mapSeries{"fx.csv:1": fx, "fy.csv:1": fy}}

	res, err := newTestRenderer().Render(context.Background(), []byte(tmpl), in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Rows != 100 {
		t.Fatalf("rows = %d, want 100", res.Rows)
	}
	lines := strings.Split(strings.TrimSuffix(string(res.Content), "\n"), "\n")
	if lines[3] != "**MEASURDATA 100" {
		t.Errorf("header = %q", lines[3])
	}
	data := lines[4 : len(lines)-1]
	if len(data) != 100 {
		t.Fatalf("data lines = %d, want 100", len(data))
	}
	if data[79] != "  79.0000  -79.0000" {
		t.Errorf("row 80 = %q", data[79])
	}
	if data[80] != "  80.0000  8.8888" {
		t.Errorf("row 81 = %q, want FY template token kept", data[80])
	}
	if lines[len(lines)-1] != "**END" {
		t.Errorf("trailing section lost: %q", lines[len(lines)-1])
	}
}

func TestRenderNegativeTokenGetsExtraSpace(t *testing.T) {
	tmpl := "**MEASURCHANNELS\nMEASNUMB\nFX\n**MEASURDATA 1\n-1  -0.5000\n"
	in := Input{Series: mapSeries{"fx.csv:1": {-2, 3}}}
	res, err := newTestRenderer().Render(context.Background(), []byte(tmpl), in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "**MEASURCHANNELS\nMEASNUMB\nFX\n**MEASURDATA 2\n 1   -2.0000\n 2   3.0000\n"
	if diff := cmp.Diff(want, string(res.Content)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderKeepsCommentsAroundData(t *testing.T) {
	tmpl := "**MEASURCHANNELS\nFX\n**MEASURDATA 1\n! units: N\n\n0.0\n! end of data\n**END\n"
	in := Input{Series: mapSeries{"fx.csv:1": {1, 2}}}
	res, err := newTestRenderer().Render(context.Background(), []byte(tmpl), in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "**MEASURCHANNELS\nFX\n**MEASURDATA 2\n! units: N\n\n1.0000\n2.0000\n! end of data\n**END\n"
	if diff := cmp.Diff(want, string(res.Content)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderUnboundChannel(t *testing.T) {
	tmpl := "**MEASURCHANNELS\nFX\nWHEELTMP\n**MEASURDATA 1\n0.0 0.0\n"
	_, err := newTestRenderer().Render(context.Background(), []byte(tmpl), Input{Series: mapSeries{}})
	var unbound *ChannelSourceNotFoundError
	if !errors.As(err, &unbound) {
		t.Fatalf("expected ChannelSourceNotFoundError, got %v", err)
	}
	if unbound.Channel != "WHEELTMP" {
		t.Errorf("channel = %s", unbound.Channel)
	}
}

func TestRenderUnresolvedChannelKeepsTemplate(t *testing.T) {
	tmpl := "**MEASURCHANNELS\nFX\nMZ\nDSTGRWHC\n**MEASURDATA 1\n0.0  1.1  2.2\n"
	in := Input{Series: mapSeries{"fx.csv:1": {5}, "u3.csv:1": {10}}}
	res, err := newTestRenderer().Render(context.Background(), []byte(tmpl), in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// MZ has no extract; DSTGRWHC has no outer_diameter to derive from.
	if diff := cmp.Diff([]string{"MZ", "DSTGRWHC"}, res.Unresolved); diff != "" {
		t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
	}
	want := "**MEASURCHANNELS\nFX\nMZ\nDSTGRWHC\n**MEASURDATA 1\n5.0000  1.1  2.2\n"
	if string(res.Content) != want {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRenderDerivedGroundClearance(t *testing.T) {
	tmpl := "**MEASURCHANNELS\nDSTGRWHC\n**MEASURDATA\n0.0\n"
	in := Input{Params: params.Set{"outer_diameter": 600}, Series: mapSeries{"u3.csv:1": {12, 20.5}}}
	res, err := newTestRenderer().Render(context.Background(), []byte(tmpl), in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "**MEASURCHANNELS\nDSTGRWHC\n**MEASURDATA 2\n0.2880\n0.2795\n"
	if diff := cmp.Diff(want, string(res.Content)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderKeepsCRLF(t *testing.T) {
	tmpl := "**HEADER\r\nMEASID  id  old\r\n**END\r\n"
	res, err := newTestRenderer().Render(context.Background(), []byte(tmpl), Input{MeasID: "job1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if want := "**HEADER\r\nMEASID  id  job1\r\n**END\r\n"; string(res.Content) != want {
		t.Errorf("content = %q, want %q", res.Content, want)
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	for _, s := range []string{"", "   ", "A", "  A\tB  ", "NAME  desc  -1.0  "} {
		if got := tokenize(s).String(); got != s {
			t.Errorf("tokenize(%q).String() = %q", s, got)
		}
	}
}
