package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

const fileSeparator = "\x1c"

// Decoder reads trace blocks from a stream.
type Decoder struct {
	sc      *bufio.Scanner
	line    int
	pending string
	pushed  bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &Decoder{sc: sc}
}

// SyntaxError reports a malformed line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("trace line %d: %s", e.Line, e.Msg)
}

// Decode returns the next block as an aggregate: *waveform.Record for
// Digitizer blocks, *waveform.DDCMultiRecord for DDC blocks and
// *waveform.AccMultiRecord for Accumulated blocks. A block without sample
// rows yields an aggregate with zero records. Decode returns io.EOF when the
// stream holds no further block.
func (d *Decoder) Decode() (waveform.Aggregate, error) {
	h := newHeader()
	var cols []column
	started := false
	rows := 0

	for {
		line, ok, err := d.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		line = strings.TrimSpace(strings.ReplaceAll(line, fileSeparator, ""))
		if line == "" {
			if !started {
				continue
			}
			break
		}
		if line[0] == '$' {
			if rows > 0 {
				d.unread(line)
				break
			}
			if err := h.parse(line); err != nil {
				return nil, &SyntaxError{Line: d.line, Msg: err.Error()}
			}
			started = true
			continue
		}

		started = true
		fields := strings.Fields(line)
		if cols == nil {
			if cols, err = h.columns(len(fields)); err != nil {
				return nil, &SyntaxError{Line: d.line, Msg: err.Error()}
			}
		}
		if len(fields) != len(cols) {
			return nil, &SyntaxError{Line: d.line, Msg: fmt.Sprintf("expected %d values, got %d", len(cols), len(fields))}
		}
		for i, f := range fields {
			if err := cols[i].add(f); err != nil {
				return nil, &SyntaxError{Line: d.line, Msg: err.Error()}
			}
		}
		rows++
	}

	if !started {
		return nil, io.EOF
	}
	return h.build(cols)
}

// DecodeAll decodes every block of r.
func DecodeAll(r io.Reader) ([]waveform.Aggregate, error) {
	d := NewDecoder(r)
	var out []waveform.Aggregate
	for {
		agg, err := d.Decode()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, agg)
	}
}

func (d *Decoder) next() (string, bool, error) {
	if d.pushed {
		d.pushed = false
		return d.pending, true, nil
	}
	if !d.sc.Scan() {
		if err := d.sc.Err(); err != nil {
			return "", false, fmt.Errorf("read trace: %w", err)
		}
		return "", false, nil
	}
	d.line++
	return d.sc.Text(), true, nil
}

func (d *Decoder) unread(line string) {
	d.pending = line
	d.pushed = true
}

type header struct {
	traceType  waveform.TraceType
	sampleType waveform.SampleType
	fullScale  float64
	channelFSR float64
	legacy     bool
	bits       int
	model      string
	channels   int
	averages   int
	view       waveform.View

	xIncrement float64
	xOffset    float64
	xSeconds   float64
	xFraction  float64

	scaleFactor map[int]float64
	scaleOffset map[int]float64
	chOffset    map[int]float64
	chSeconds   map[int]float64
	chFraction  map[int]float64
}

func newHeader() *header {
	return &header{
		traceType:   waveform.TraceDigitizer,
		scaleFactor: map[int]float64{},
		scaleOffset: map[int]float64{},
		chOffset:    map[int]float64{},
		chSeconds:   map[int]float64{},
		chFraction:  map[int]float64{},
	}
}

func (h *header) parse(line string) error {
	if strings.HasPrefix(line, "$$") {
		return h.parseChannel(line[2:])
	}
	key, value, _ := strings.Cut(line[1:], " ")
	value = strings.TrimSpace(value)

	var err error
	switch key {
	case "TraceType":
		switch tt := waveform.TraceType(value); tt {
		case waveform.TraceDigitizer, waveform.TraceDDC, waveform.TraceAccumulated:
			h.traceType = tt
		default:
			err = fmt.Errorf("unknown trace type %q", value)
		}
	case "SampleType":
		h.sampleType, err = waveform.ParseSampleType(value)
	case "FullScale":
		h.fullScale, err = strconv.ParseFloat(value, 64)
	case "NbrAdcBits":
		h.bits, err = strconv.Atoi(value)
	case "Model", "MODEL":
		h.model = value
	case "ActualChannels", "#CHANNELS":
		h.channels, err = strconv.Atoi(value)
	case "ActualAverages":
		h.averages, err = strconv.Atoi(value)
	case "View":
		h.view, err = waveform.ParseView(value)
	case "XIncrement", "SAMPIVAL":
		h.xIncrement, err = strconv.ParseFloat(value, 64)
	case "InitialXOffset":
		h.xOffset, err = strconv.ParseFloat(value, 64)
	case "HORPOS":
		first, _, _ := strings.Cut(value, " ")
		h.xOffset, err = strconv.ParseFloat(first, 64)
	case "InitialXTimeSeconds":
		h.xSeconds, err = strconv.ParseFloat(value, 64)
	case "InitialXTimeFraction":
		h.xFraction, err = strconv.ParseFloat(value, 64)
	case "FULLSCALE":
		h.legacy = true
		h.fullScale, err = strconv.ParseFloat(value, 64)
	case "CHANNELFSR":
		h.legacy = true
		h.channelFSR, err = strconv.ParseFloat(value, 64)
	}
	if err != nil {
		return fmt.Errorf("header %s: %w", key, err)
	}
	return nil
}

func (h *header) parseChannel(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("channel header %q: expected key, channel and value", line)
	}
	channel, err := strconv.Atoi(fields[1])
	if err != nil || channel < 0 {
		return fmt.Errorf("channel header %s: bad channel %q", fields[0], fields[1])
	}
	value, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("channel header %s: %w", fields[0], err)
	}
	switch fields[0] {
	case "ScaleFactor":
		h.scaleFactor[channel] = value
	case "ScaleOffset":
		h.scaleOffset[channel] = value
	case "InitialXOffset":
		h.chOffset[channel] = value
	case "InitialXTimeSeconds":
		h.chSeconds[channel] = value
	case "InitialXTimeFraction":
		h.chFraction[channel] = value
	}
	return nil
}

func (h *header) stride() int {
	if h.traceType == waveform.TraceDDC {
		return 2
	}
	return 1
}

func (h *header) samples() waveform.SampleType {
	if h.sampleType != waveform.SampleUnknown {
		return h.sampleType
	}
	if h.fullScale == waveform.SampleInt32.FullScale() {
		return waveform.SampleInt32
	}
	return waveform.SampleInt16
}

// columns allocates the column parsers for a block whose first row holds
// n values.
func (h *header) columns(n int) ([]column, error) {
	stride := h.stride()
	if h.channels > 0 && n != h.channels*stride {
		return nil, fmt.Errorf("expected %d values for %d channels, got %d", h.channels*stride, h.channels, n)
	}
	if n%stride != 0 {
		return nil, fmt.Errorf("odd number of I/Q values: %d", n)
	}
	h.channels = n / stride
	cols := make([]column, n)
	for i := range cols {
		c, err := newColumn(h.samples())
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return cols, nil
}

func (h *header) channelValue(m map[int]float64, c int, def float64) float64 {
	if v, ok := m[c]; ok {
		return v
	}
	return def
}

func (h *header) scale(c int) (float64, float64) {
	def := 1.0
	if h.legacy && h.channelFSR != 0 && h.fullScale != 0 {
		def = h.channelFSR / h.fullScale
	}
	return h.channelValue(h.scaleFactor, c, def), h.channelValue(h.scaleOffset, c, 0)
}

func (h *header) options() []waveform.Option {
	opts := []waveform.Option{
		waveform.WithSampleType(h.samples()),
		waveform.WithNbrAdcBits(h.bits),
		waveform.WithModel(h.model),
		waveform.WithCheckXOffset(len(h.chOffset)+len(h.chSeconds)+len(h.chFraction) == 0),
	}
	if h.fullScale > 0 {
		opts = append(opts, waveform.WithFullScale(h.fullScale))
	}
	return opts
}

func (h *header) build(cols []column) (waveform.Aggregate, error) {
	switch h.traceType {
	case waveform.TraceDDC:
		return h.buildDDC(cols)
	case waveform.TraceAccumulated:
		return h.buildAccumulated(cols)
	}
	rec := waveform.NewRecord(h.options()...)
	for c, col := range cols {
		samples := col.buffer()
		sf, so := h.scale(c)
		err := rec.Append(&waveform.Fetch{
			Samples:              samples,
			ActualPoints:         samples.Len(),
			InitialXOffset:       h.channelValue(h.chOffset, c, h.xOffset),
			InitialXTimeSeconds:  h.channelValue(h.chSeconds, c, h.xSeconds),
			InitialXTimeFraction: h.channelValue(h.chFraction, c, h.xFraction),
			XIncrement:           h.xIncrement,
			ScaleFactor:          sf,
			ScaleOffset:          so,
		})
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (h *header) buildAccumulated(cols []column) (waveform.Aggregate, error) {
	acc := waveform.NewAccMultiRecord(h.options()...)
	for c, col := range cols {
		samples := col.buffer()
		sf, so := h.scale(c)
		err := acc.Append(&waveform.AccFetch{
			Samples:              samples,
			ActualAverages:       h.averages,
			ActualRecords:        1,
			ActualPoints:         []int{samples.Len()},
			FirstValidPoint:      []int{0},
			InitialXOffset:       h.channelValue(h.chOffset, c, h.xOffset),
			InitialXTimeSeconds:  []float64{h.channelValue(h.chSeconds, c, h.xSeconds)},
			InitialXTimeFraction: []float64{h.channelValue(h.chFraction, c, h.xFraction)},
			XIncrement:           h.xIncrement,
			ScaleFactor:          sf,
			ScaleOffset:          so,
		})
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (h *header) buildDDC(cols []column) (waveform.Aggregate, error) {
	ddc := waveform.NewDDCMultiRecord(h.options()...)
	if err := ddc.SetView(h.view); err != nil {
		return nil, err
	}
	for c := 0; c+1 < len(cols); c += 2 {
		ch := c / 2
		pairs, err := interleave(cols[c].buffer(), cols[c+1].buffer())
		if err != nil {
			return nil, err
		}
		sf, so := h.scale(ch)
		err = ddc.Append(&waveform.DDCFetch{MultiFetch: waveform.MultiFetch{
			Samples:              pairs,
			ActualRecords:        1,
			ActualPoints:         []int{pairs.Len() / 2},
			FirstValidPoint:      []int{0},
			InitialXOffset:       []float64{h.channelValue(h.chOffset, ch, h.xOffset)},
			InitialXTimeSeconds:  []float64{h.channelValue(h.chSeconds, ch, h.xSeconds)},
			InitialXTimeFraction: []float64{h.channelValue(h.chFraction, ch, h.xFraction)},
			XIncrement:           h.xIncrement,
			ScaleFactor:          sf,
			ScaleOffset:          so,
		}})
		if err != nil {
			return nil, err
		}
	}
	return ddc, nil
}
