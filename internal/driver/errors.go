package driver

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized driver errors.
var (
	ErrNoAcquisitionInProgress = errors.New("NO_ACQUISITION_IN_PROGRESS")
	ErrTimeout                 = errors.New("TIMEOUT")
	ErrOverrange               = errors.New("OVERRANGE")
	ErrBusy                    = errors.New("BUSY")
	ErrInvalidValue            = errors.New("INVALID_VALUE")
	ErrCalibration             = errors.New("CALIBRATION_FAILED")
	ErrUnavailable             = errors.New("UNAVAILABLE")
	ErrInternal                = errors.New("INTERNAL")
)

type tokenMapping struct {
	code   error
	tokens []string
}

// VendorErrorMappings lists, per vendor, the message tokens mapped to each
// normalized error. Mappings are checked in order, so the more specific
// tokens come first ("NO ACQUISITION IN PROGRESS" before "ACQUISITION IN
// PROGRESS"). Unknown messages map to ErrInternal.
var VendorErrorMappings = map[string][]tokenMapping{
	"generic": {
		{ErrNoAcquisitionInProgress, []string{"NO_ACQUISITION_IN_PROGRESS", "NO ACQUISITION IN PROGRESS", "NOT ARMED"}},
		{ErrTimeout, []string{"MAX_TIME_EXCEEDED", "MAX TIME EXCEEDED", "TIMEOUT", "TIMED OUT"}},
		{ErrOverrange, []string{"OVERRANGE", "OVER_RANGE", "OVER RANGE"}},
		{ErrBusy, []string{"ACQUISITION_IN_PROGRESS", "ACQUISITION IN PROGRESS", "BUSY", "NOT IDLE"}},
		{ErrCalibration, []string{"CALIBRATION_FAILED", "CALIBRATION FAILED", "SELF_CALIBRATION"}},
		{ErrInvalidValue, []string{"INVALID_VALUE", "INVALID VALUE", "OUT_OF_RANGE", "OUT OF RANGE", "INVALID_ATTRIBUTE", "NOT_SUPPORTED", "NOT SUPPORTED"}},
		{ErrUnavailable, []string{"RESOURCE_NOT_FOUND", "RESOURCE NOT FOUND", "INSUFFICIENT_LOCATION", "UNAVAILABLE"}},
	},
	"sim": {
		{ErrNoAcquisitionInProgress, []string{"SIM_NOT_ARMED"}},
		{ErrTimeout, []string{"SIM_TIMEOUT"}},
		{ErrOverrange, []string{"SIM_OVERRANGE"}},
		{ErrBusy, []string{"SIM_BUSY"}},
		{ErrCalibration, []string{"SIM_CALIBRATION"}},
		{ErrInvalidValue, []string{"SIM_INVALID_VALUE", "SIM_UNKNOWN_ATTRIBUTE"}},
	},
}

// DriverError wraps a vendor error with its normalized code.
type DriverError struct {
	Code     error
	Original error
	Details  any
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%v (vendor: %v)", e.Code, e.Original)
}

func (e *DriverError) Unwrap() error {
	return e.Code
}

// NormalizeVendorError maps a vendor error with the generic table.
func NormalizeVendorError(vendorErr error, details any) error {
	return NormalizeVendorErrorWithVendor(vendorErr, details, "generic")
}

// NormalizeVendorErrorWithVendor maps a vendor error with the table of
// vendorID, falling back to the generic table. Errors that already carry a
// normalized code are returned unchanged.
func NormalizeVendorErrorWithVendor(vendorErr error, details any, vendorID string) error {
	if vendorErr == nil {
		return nil
	}
	var de *DriverError
	if errors.As(vendorErr, &de) {
		return vendorErr
	}
	return &DriverError{
		Code:     mapVendorErrorToCode(vendorErr.Error(), vendorID),
		Original: vendorErr,
		Details:  details,
	}
}

func mapVendorErrorToCode(msg, vendorID string) error {
	upper := strings.ToUpper(msg)
	tables := [][]tokenMapping{VendorErrorMappings[vendorID]}
	if vendorID != "generic" {
		tables = append(tables, VendorErrorMappings["generic"])
	}
	for _, table := range tables {
		for _, m := range table {
			for _, token := range m.tokens {
				if strings.Contains(upper, token) {
					return m.code
				}
			}
		}
	}
	return ErrInternal
}
