package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

// Errors returned by Check.
var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Change is one field a command modified.
type Change struct {
	CommandID string
	Key       string
	Value     any
}

// Rejection is a command key, or a whole command when Key is empty, that
// could not be applied.
type Rejection struct {
	CommandID string
	Key       string
	Err       error
}

// Result summarizes a batch applied by Update.
type Result struct {
	Changed  bool
	Changes  []Change
	Unknown  []string
	Rejected []Rejection
}

// Update applies commands in order to a copy of cfg. Each command is
// applied atomically: if any value fails to convert or the resulting
// configuration fails validation, none of its keys take effect. Unknown
// keys are reported and ignored. When records or samples change, the
// derived read counts are refreshed.
func Update(cfg *config.Config, commands []Command) (*config.Config, Result) {
	out := cfg.Clone()
	var res Result
	countsChanged := false

	for _, cmd := range commands {
		candidate := out.Clone()
		var changes []Change
		var rejected []Rejection
		counts := false

		keys := make([]string, 0, len(cmd.Params))
		for k := range cmd.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if _, known := config.Fields[key]; !known {
				res.Unknown = append(res.Unknown, key)
				continue
			}
			changed, err := candidate.Set(key, cmd.Params[key])
			if err != nil {
				rejected = append(rejected, Rejection{CommandID: cmd.ID, Key: key, Err: err})
				continue
			}
			if changed {
				changes = append(changes, Change{CommandID: cmd.ID, Key: key, Value: cmd.Params[key]})
				counts = counts || key == "records" || key == "samples"
			}
		}

		if len(rejected) > 0 {
			res.Rejected = append(res.Rejected, rejected...)
			continue
		}
		if len(changes) == 0 {
			continue
		}
		if err := config.Validate(candidate); err != nil {
			res.Rejected = append(res.Rejected, Rejection{CommandID: cmd.ID, Err: fmt.Errorf("invalid configuration: %w", err)})
			continue
		}
		out = candidate
		res.Changes = append(res.Changes, changes...)
		countsChanged = countsChanged || counts
	}

	res.Changed = len(res.Changes) > 0
	if countsChanged {
		out.Refresh()
	}
	return out, res
}

// Check reports whether cmd would be accepted against cfg without
// applying it.
func Check(cfg *config.Config, cmd Command) error {
	_, res := Update(cfg, []Command{cmd})
	if len(res.Unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, strings.Join(res.Unknown, ", "))
	}
	if len(res.Rejected) > 0 {
		r := res.Rejected[0]
		if r.Key == "" {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, r.Err)
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidParameter, r.Key, r.Err)
	}
	return nil
}
