package waveform

import (
	"fmt"
	"math"
	"strconv"
)

// SampleType identifies the storage type of raw samples.
type SampleType int

const (
	SampleUnknown SampleType = iota
	SampleInt8
	SampleInt16
	SampleInt32
	SampleReal64
	SampleComplex128
)

var sampleTypeNames = map[SampleType]string{
	SampleInt8:       "Int8",
	SampleInt16:      "Int16",
	SampleInt32:      "Int32",
	SampleReal64:     "Real64",
	SampleComplex128: "Complex128",
}

func (t SampleType) String() string {
	if name, ok := sampleTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseSampleType parses the textual form produced by SampleType.String.
func ParseSampleType(s string) (SampleType, error) {
	for t, name := range sampleTypeNames {
		if name == s {
			return t, nil
		}
	}
	return SampleUnknown, fmt.Errorf("unknown sample type %q", s)
}

// FullScale returns the code range of the sample type. Floating-point
// samples are already normalized and report 1.
func (t SampleType) FullScale() float64 {
	switch t {
	case SampleInt8:
		return 1 << 8
	case SampleInt16:
		return 1 << 16
	case SampleInt32:
		return 1 << 32
	default:
		return 1
	}
}

// Buffer is a read-only run of samples of a single type.
// Slice returns a view sharing the underlying storage.
type Buffer interface {
	Type() SampleType
	Len() int
	Float(i int) float64
	AppendText(dst []byte, i int) []byte
	Slice(lo, hi int) Buffer
}

type (
	Int8s       []int8
	Int16s      []int16
	Int32s      []int32
	Real64s     []float64
	Complex128s []complex128
)

func (b Int8s) Type() SampleType        { return SampleInt8 }
func (b Int8s) Len() int                { return len(b) }
func (b Int8s) Float(i int) float64     { return float64(b[i]) }
func (b Int8s) Slice(lo, hi int) Buffer { return b[lo:hi:hi] }
func (b Int8s) AppendText(dst []byte, i int) []byte {
	return strconv.AppendInt(dst, int64(b[i]), 10)
}

func (b Int16s) Type() SampleType        { return SampleInt16 }
func (b Int16s) Len() int                { return len(b) }
func (b Int16s) Float(i int) float64     { return float64(b[i]) }
func (b Int16s) Slice(lo, hi int) Buffer { return b[lo:hi:hi] }
func (b Int16s) AppendText(dst []byte, i int) []byte {
	return strconv.AppendInt(dst, int64(b[i]), 10)
}

func (b Int32s) Type() SampleType        { return SampleInt32 }
func (b Int32s) Len() int                { return len(b) }
func (b Int32s) Float(i int) float64     { return float64(b[i]) }
func (b Int32s) Slice(lo, hi int) Buffer { return b[lo:hi:hi] }
func (b Int32s) AppendText(dst []byte, i int) []byte {
	return strconv.AppendInt(dst, int64(b[i]), 10)
}

func (b Real64s) Type() SampleType        { return SampleReal64 }
func (b Real64s) Len() int                { return len(b) }
func (b Real64s) Float(i int) float64     { return b[i] }
func (b Real64s) Slice(lo, hi int) Buffer { return b[lo:hi:hi] }
func (b Real64s) AppendText(dst []byte, i int) []byte {
	return strconv.AppendFloat(dst, b[i], 'g', -1, 64)
}

func (b Complex128s) Type() SampleType { return SampleComplex128 }
func (b Complex128s) Len() int         { return len(b) }

// Float returns the modulus of the complex sample.
func (b Complex128s) Float(i int) float64     { return math.Hypot(real(b[i]), imag(b[i])) }
func (b Complex128s) Slice(lo, hi int) Buffer { return b[lo:hi:hi] }
func (b Complex128s) AppendText(dst []byte, i int) []byte {
	return append(dst, strconv.FormatComplex(b[i], 'g', -1, 128)...)
}

// NewBuffer allocates a zeroed buffer of the given type and length.
func NewBuffer(t SampleType, n int) (Buffer, error) {
	switch t {
	case SampleInt8:
		return make(Int8s, n), nil
	case SampleInt16:
		return make(Int16s, n), nil
	case SampleInt32:
		return make(Int32s, n), nil
	case SampleReal64:
		return make(Real64s, n), nil
	case SampleComplex128:
		return make(Complex128s, n), nil
	}
	return nil, fmt.Errorf("cannot allocate %s samples", t)
}
