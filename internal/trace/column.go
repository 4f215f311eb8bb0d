package trace

import (
	"fmt"
	"strconv"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

type column interface {
	add(text string) error
	buffer() waveform.Buffer
}

type intSample interface {
	~int8 | ~int16 | ~int32
}

type intColumn[T intSample] struct {
	bits   int
	values []T
	wrap   func([]T) waveform.Buffer
}

func (c *intColumn[T]) add(text string) error {
	v, err := strconv.ParseInt(text, 10, c.bits)
	if err != nil {
		return fmt.Errorf("sample %q: %w", text, err)
	}
	c.values = append(c.values, T(v))
	return nil
}

func (c *intColumn[T]) buffer() waveform.Buffer { return c.wrap(c.values) }

type realColumn struct {
	values waveform.Real64s
}

func (c *realColumn) add(text string) error {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("sample %q: %w", text, err)
	}
	c.values = append(c.values, v)
	return nil
}

func (c *realColumn) buffer() waveform.Buffer { return c.values }

func newColumn(t waveform.SampleType) (column, error) {
	switch t {
	case waveform.SampleInt8:
		return &intColumn[int8]{bits: 8, wrap: func(v []int8) waveform.Buffer { return waveform.Int8s(v) }}, nil
	case waveform.SampleInt16:
		return &intColumn[int16]{bits: 16, wrap: func(v []int16) waveform.Buffer { return waveform.Int16s(v) }}, nil
	case waveform.SampleInt32:
		return &intColumn[int32]{bits: 32, wrap: func(v []int32) waveform.Buffer { return waveform.Int32s(v) }}, nil
	case waveform.SampleReal64:
		return &realColumn{}, nil
	}
	return nil, fmt.Errorf("sample type %s cannot be decoded", t)
}

// interleave merges separate I and Q columns into one pair buffer.
func interleave(i, q waveform.Buffer) (waveform.Buffer, error) {
	if i.Len() != q.Len() || i.Type() != q.Type() {
		return nil, fmt.Errorf("I/Q columns differ")
	}
	switch iv := i.(type) {
	case waveform.Int8s:
		return waveform.Int8s(zip(iv, q.(waveform.Int8s))), nil
	case waveform.Int16s:
		return waveform.Int16s(zip(iv, q.(waveform.Int16s))), nil
	case waveform.Int32s:
		return waveform.Int32s(zip(iv, q.(waveform.Int32s))), nil
	case waveform.Real64s:
		return waveform.Real64s(zip(iv, q.(waveform.Real64s))), nil
	}
	return nil, fmt.Errorf("cannot interleave %s samples", i.Type())
}

func zip[S ~[]T, T any](i, q S) []T {
	out := make([]T, 2*len(i))
	for k := range i {
		out[2*k], out[2*k+1] = i[k], q[k]
	}
	return out
}
