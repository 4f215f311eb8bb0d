package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// Encoder writes aggregates as trace blocks.
type Encoder struct {
	w   *bufio.Writer
	buf []byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, 64*1024)}
}

// Encode writes one block per record of agg and flushes the output. A
// record is fully formatted before any of it reaches w's buffer.
func (e *Encoder) Encode(agg waveform.Aggregate) error {
	for i := 0; i < agg.Records(); i++ {
		rec, err := agg.Record(i)
		if err != nil {
			return err
		}
		if err := e.encodeRecord(rec); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

func (e *Encoder) encodeRecord(rec waveform.RecordView) error {
	md := rec.Metadata()
	n := rec.Channels()
	waves := make([]*waveform.Waveform, n)
	cols := make([]waveform.Buffer, n)
	pairs, interleaved := rec.(waveform.PairSource)
	interleaved = interleaved && md.TraceType == waveform.TraceDDC
	for c := 0; c < n; c++ {
		w, err := rec.Channel(c)
		if err != nil {
			return err
		}
		waves[c] = w
		if interleaved {
			raw, err := pairs.Pairs(c)
			if err != nil {
				return err
			}
			cols[c] = raw
		} else {
			cols[c] = w.Samples()
		}
	}

	b := e.buf[:0]
	b = appendHeader(b, "TraceType", string(md.TraceType))
	b = appendHeader(b, "SampleType", md.SampleType.String())
	b = appendHeader(b, "FullScale", formatFloat(md.FullScale))
	if md.NbrAdcBits > 0 {
		b = appendHeader(b, "NbrAdcBits", strconv.Itoa(md.NbrAdcBits))
	}
	if md.Model != "" {
		b = appendHeader(b, "Model", md.Model)
	}
	b = appendHeader(b, "ActualChannels", strconv.Itoa(n))
	switch md.TraceType {
	case waveform.TraceAccumulated:
		b = appendHeader(b, "ActualAverages", strconv.Itoa(md.ActualAverages))
	case waveform.TraceDDC:
		b = appendHeader(b, "View", md.View.String())
	}
	b = appendHeader(b, "XIncrement", formatFloat(md.XIncrement))
	b = appendHeader(b, "InitialXOffset", formatFloat(md.InitialXOffset))
	b = appendHeader(b, "InitialXTimeSeconds", formatFloat(md.InitialXTimeSeconds))
	b = appendHeader(b, "InitialXTimeFraction", formatFloat(md.InitialXTimeFraction))
	for c, w := range waves {
		b = appendChannelHeader(b, "ScaleFactor", c, w.ScaleFactor)
		b = appendChannelHeader(b, "ScaleOffset", c, w.ScaleOffset)
		if w.InitialXOffset != md.InitialXOffset {
			b = appendChannelHeader(b, "InitialXOffset", c, w.InitialXOffset)
		}
		if w.InitialXTimeSeconds != md.InitialXTimeSeconds {
			b = appendChannelHeader(b, "InitialXTimeSeconds", c, w.InitialXTimeSeconds)
		}
		if w.InitialXTimeFraction != md.InitialXTimeFraction {
			b = appendChannelHeader(b, "InitialXTimeFraction", c, w.InitialXTimeFraction)
		}
	}

	if n > 0 {
		stride := 1
		if interleaved {
			stride = 2
		}
		rows := cols[0].Len() / stride
		for r := 0; r < rows; r++ {
			for c, col := range cols {
				for k := 0; k < stride; k++ {
					if c > 0 || k > 0 {
						b = append(b, ' ')
					}
					b = col.AppendText(b, r*stride+k)
				}
			}
			b = append(b, '\n')
		}
	}
	b = append(b, '\n')
	e.buf = b

	if _, err := e.w.Write(b); err != nil {
		return fmt.Errorf("write trace block: %w", err)
	}
	return nil
}

func appendHeader(b []byte, key, value string) []byte {
	b = append(b, '$')
	b = append(b, key...)
	b = append(b, ' ')
	b = append(b, value...)
	return append(b, '\n')
}

func appendChannelHeader(b []byte, key string, channel int, value float64) []byte {
	b = append(b, "$$"...)
	b = append(b, key...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(channel), 10)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	return append(b, '\n')
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
