package config

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Setter assigns a decoded value to one field and reports whether the field
// changed. Values are the types produced by a JSON decoder using
// json.Number, or strings from the environment.
type Setter func(c *Config, value any) (changed bool, err error)

// Fields maps every reconfigurable key to its setter.
var Fields = map[string]Setter{
	"loops":   field(toInt, func(c *Config) *int { return &c.Loops }),
	"records": field(toInt, func(c *Config) *int { return &c.Records }),
	"samples": field(toInt, func(c *Config) *int { return &c.Samples }),

	"no_calibrate":              field(toBool, func(c *Config) *bool { return &c.NoCalibrate }),
	"calibrate_once":            field(toBool, func(c *Config) *bool { return &c.CalibrateOnce }),
	"calibrate_period":          field(toInt, func(c *Config) *int { return &c.CalibratePeriod }),
	"calibration_signal":        field(toString, func(c *Config) *string { return &c.CalibrationSignal }),
	"cal_offset_target":         field(toFloat, func(c *Config) *float64 { return &c.CalOffsetTarget }),
	"fail_on_calibration_error": field(toBool, func(c *Config) *bool { return &c.FailOnCalibrationError }),

	"clock_external":     field(toFloat, func(c *Config) *float64 { return &c.ClockExternal }),
	"clock_ext_divider":  field(toFloat, func(c *Config) *float64 { return &c.ClockExtDivider }),
	"clock_ref":          field(toString, func(c *Config) *string { return &c.ClockRef }),
	"sampling_frequency": setSampling(func(c *Config) (*float64, *float64) { return &c.SamplingFrequency, &c.SamplingInterval }),
	"sampling_interval":  setSampling(func(c *Config) (*float64, *float64) { return &c.SamplingInterval, &c.SamplingFrequency }),

	"mode":                           field(toString, func(c *Config) *string { return &c.Mode }),
	"ddc_local_oscillator_frequency": field(toFloat, func(c *Config) *float64 { return &c.DDCLocalOscillatorFrequency }),
	"ddc_decimation_numerator":       field(toInt, func(c *Config) *int { return &c.DDCDecimationNumerator }),
	"ddc_decimation_denominator":     field(toInt, func(c *Config) *int { return &c.DDCDecimationDenominator }),
	"ddc_sample_view":                field(toString, func(c *Config) *string { return &c.DDCSampleView }),
	"averages":                       field(toInt, func(c *Config) *int { return &c.Averages }),

	"interleave":           list(func(c *Config) *[]int { return &c.Interleave }),
	"tsr":                  field(toBool, func(c *Config) *bool { return &c.TSR }),
	"streaming_continuous": field(toBool, func(c *Config) *bool { return &c.StreamingContinuous }),
	"streaming_triggered":  field(toBool, func(c *Config) *bool { return &c.StreamingTriggered }),

	"immediate_trigger":      field(toBool, func(c *Config) *bool { return &c.ImmediateTrigger }),
	"trigger_name":           field(toString, func(c *Config) *string { return &c.TriggerName }),
	"trigger_external":       field(toInt, func(c *Config) *int { return &c.TriggerExternal }),
	"trigger_internal":       field(toInt, func(c *Config) *int { return &c.TriggerInternal }),
	"trigger_level":          optional(toFloat, func(c *Config) **float64 { return &c.TriggerLevel }),
	"trigger_delay":          optional(toFloat, func(c *Config) **float64 { return &c.TriggerDelay }),
	"trigger_slope":          field(toString, func(c *Config) *string { return &c.TriggerSlope }),
	"trigger_output_enabled": optional(toBool, func(c *Config) **bool { return &c.TriggerOutputEnabled }),
	"trigger_output_source":  field(toString, func(c *Config) *string { return &c.TriggerOutputSource }),
	"trigger_output_offset":  optional(toFloat, func(c *Config) **float64 { return &c.TriggerOutputOffset }),

	"vertical_range":  field(toFloat, func(c *Config) *float64 { return &c.VerticalRange }),
	"vertical_offset": field(toFloat, func(c *Config) *float64 { return &c.VerticalOffset }),

	"control_io1": field(toString, func(c *Config) *string { return &c.ControlIO1 }),
	"control_io2": field(toString, func(c *Config) *string { return &c.ControlIO2 }),
	"control_io3": field(toString, func(c *Config) *string { return &c.ControlIO3 }),

	"self_trigger_square_wave":     field(toBool, func(c *Config) *bool { return &c.SelfTriggerSquareWave }),
	"self_trigger_armed_pulse":     field(toBool, func(c *Config) *bool { return &c.SelfTriggerArmedPulse }),
	"self_trigger_wave_frequency":  field(toFloat, func(c *Config) *float64 { return &c.SelfTriggerWaveFrequency }),
	"self_trigger_wave_duty_cycle": field(toFloat, func(c *Config) *float64 { return &c.SelfTriggerWaveDutyCycle }),
	"self_trigger_pulse_duration":  field(toFloat, func(c *Config) *float64 { return &c.SelfTriggerPulseDuration }),

	"wait_timeout":         field(toFloat, func(c *Config) *float64 { return &c.WaitTimeout }),
	"poll_timeout":         field(toFloat, func(c *Config) *float64 { return &c.PollTimeout }),
	"fail_on_wait_timeout": field(toBool, func(c *Config) *bool { return &c.FailOnWaitTimeout }),

	"read_records":      field(toInt, func(c *Config) *int { return &c.ReadRecords }),
	"read_samples":      field(toInt, func(c *Config) *int { return &c.ReadSamples }),
	"read_type":         field(toString, func(c *Config) *string { return &c.ReadType }),
	"read_channels":     list(func(c *Config) *[]int { return &c.ReadChannels }),
	"no_check_x_offset": field(toBool, func(c *Config) *bool { return &c.NoCheckXOffset }),
}

// Keys returns the reconfigurable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(Fields))
	for k := range Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the field named key.
func (c *Config) Set(key string, value any) (bool, error) {
	set, ok := Fields[key]
	if !ok {
		return false, fmt.Errorf("unknown parameter %q", key)
	}
	changed, err := set(c, value)
	if err != nil {
		return false, fmt.Errorf("parameter %s: %w", key, err)
	}
	return changed, nil
}

func field[T comparable](conv func(any) (T, error), ptr func(*Config) *T) Setter {
	return func(c *Config, value any) (bool, error) {
		v, err := conv(value)
		if err != nil {
			return false, err
		}
		dst := ptr(c)
		if *dst == v {
			return false, nil
		}
		*dst = v
		return true, nil
	}
}

// optional fields are cleared by a null value.
func optional[T comparable](conv func(any) (T, error), ptr func(*Config) **T) Setter {
	return func(c *Config, value any) (bool, error) {
		dst := ptr(c)
		if value == nil {
			changed := *dst != nil
			*dst = nil
			return changed, nil
		}
		v, err := conv(value)
		if err != nil {
			return false, err
		}
		if *dst != nil && **dst == v {
			return false, nil
		}
		*dst = &v
		return true, nil
	}
}

func list(ptr func(*Config) *[]int) Setter {
	return func(c *Config, value any) (bool, error) {
		v, err := toInts(value)
		if err != nil {
			return false, err
		}
		dst := ptr(c)
		if slices.Equal(*dst, v) {
			return false, nil
		}
		*dst = v
		return true, nil
	}
}

// setSampling keeps the sampling frequency and interval reciprocal.
func setSampling(ptr func(*Config) (*float64, *float64)) Setter {
	return func(c *Config, value any) (bool, error) {
		v, err := toFloat(value)
		if err != nil {
			return false, err
		}
		if v < 0 {
			return false, fmt.Errorf("must not be negative, got %v", v)
		}
		dst, other := ptr(c)
		if *dst == v {
			return false, nil
		}
		*dst = v
		*other = 0
		if v > 0 {
			*other = 1 / v
		}
		return true, nil
	}
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", value)
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", value)
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", v)
		}
		return b, nil
	}
	return false, fmt.Errorf("expected boolean, got %T", value)
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("expected string, got %T", value)
}

// toInts accepts a JSON array, a single number, or a comma or space
// separated string.
func toInts(value any) ([]int, error) {
	switch v := value.(type) {
	case []int:
		return slices.Clone(v), nil
	case []any:
		out := make([]int, 0, len(v))
		for _, e := range v {
			n, err := toInt(e)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case string:
		parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := toInt(p)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	n, err := toInt(value)
	if err != nil {
		return nil, fmt.Errorf("expected list of integers, got %T", value)
	}
	return []int{n}, nil
}
