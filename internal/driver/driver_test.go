package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeVendorError(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		msg    string
		want   error
	}{
		{"no acquisition before busy", "generic", "AGMD2_ERROR_NO_ACQUISITION_IN_PROGRESS", ErrNoAcquisitionInProgress},
		{"busy", "generic", "Acquisition in progress, cannot apply", ErrBusy},
		{"timeout", "generic", "WaitForAcquisitionComplete: MAX_TIME_EXCEEDED", ErrTimeout},
		{"overrange", "generic", "Overrange detected on Channel1", ErrOverrange},
		{"invalid", "generic", "Attribute value out of range", ErrInvalidValue},
		{"calibration", "generic", "Self calibration failed", ErrCalibration},
		{"unknown", "generic", "something odd", ErrInternal},
		{"vendor table", "sim", "SIM_NOT_ARMED: nothing", ErrNoAcquisitionInProgress},
		{"vendor falls back to generic", "sim", "TIMEOUT waiting", ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeVendorErrorWithVendor(errors.New(tt.msg), nil, tt.vendor)
			assert.ErrorIs(t, err, tt.want)

			var de *DriverError
			require.ErrorAs(t, err, &de)
			assert.EqualError(t, de.Original, tt.msg)
		})
	}
}

func TestNormalizeKeepsNormalizedErrors(t *testing.T) {
	assert.NoError(t, NormalizeVendorError(nil, nil))

	first := NormalizeVendorError(errors.New("BUSY"), nil)
	wrapped := fmt.Errorf("apply: %w", first)
	assert.Same(t, wrapped, NormalizeVendorError(wrapped, nil))
}

type stubSession struct {
	Session
	values map[Attribute]any
}

func (s *stubSession) GetAttribute(ctx context.Context, repCap string, attr Attribute) (any, error) {
	v, ok := s.values[attr]
	if !ok {
		return nil, errors.New("INVALID_ATTRIBUTE")
	}
	return v, nil
}

func TestTypedGetters(t *testing.T) {
	ctx := context.Background()
	s := &stubSession{values: map[Attribute]any{
		AttrTSREnabled:          true,
		AttrSampleRate:          1e9,
		AttrRecordSize:          int64(1000),
		AttrNumRecordsToAcquire: 4,
		AttrAcquisitionMode:     ModeAverager,
	}}

	b, err := GetBool(ctx, s, "", AttrTSREnabled)
	require.NoError(t, err)
	assert.True(t, b)

	f, err := GetReal64(ctx, s, "", AttrSampleRate)
	require.NoError(t, err)
	assert.Equal(t, 1e9, f)

	n, err := GetInt64(ctx, s, "", AttrRecordSize)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n)

	n, err = GetInt64(ctx, s, "", AttrNumRecordsToAcquire)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	str, err := GetString(ctx, s, "", AttrAcquisitionMode)
	require.NoError(t, err)
	assert.Equal(t, ModeAverager, str)

	_, err = GetBool(ctx, s, "", AttrSampleRate)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = GetString(ctx, s, "", AttrChannelRange)
	assert.ErrorIs(t, err, ErrInvalidValue)
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, AttrChannelRange, de.Details)

	_, err = GetInt64(ctx, s, "", AttrChannelRange)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

type cancelledSession struct{ Session }

func (cancelledSession) GetAttribute(ctx context.Context, _ string, _ Attribute) (any, error) {
	return nil, ctx.Err()
}

func TestTypedGettersPassCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := GetReal64(ctx, cancelledSession{}, "", AttrSampleRate)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	Register("TESTREG", func(ctx context.Context, resource string, opts Options) (Session, error) {
		if opts.Reset {
			return nil, errors.New("RESOURCE_NOT_FOUND")
		}
		return &stubSession{}, nil
	})
	assert.Contains(t, Prefixes(), "TESTREG")
	assert.Panics(t, func() {
		Register("testreg", func(context.Context, string, Options) (Session, error) { return nil, nil })
	})

	s, err := Open(context.Background(), "testreg:dev0", Options{})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = Open(context.Background(), "testreg:dev0", Options{Reset: true})
	assert.Error(t, err)

	_, err = Open(context.Background(), "PXI0::1::INSTR", Options{})
	assert.Error(t, err)

	_, err = Open(context.Background(), "NOPE:dev", Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "Channel3", ChannelName(3))
	assert.Equal(t, "DDCCore2", DDCCoreName(2))
	assert.Equal(t, "StreamCh1", StreamName(1))
	assert.Equal(t, "ControlIO1", ControlIOName(1))
}
