package command

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

func finalized(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	c := config.Default()
	if mutate != nil {
		mutate(c)
	}
	c.Finalize()
	require.NoError(t, config.Validate(c))
	return c
}

func cmd(params map[string]any) Command { return NewCommand("test", params) }

func TestUpdateAppliesKnownKeys(t *testing.T) {
	cfg := finalized(t, nil)

	out, res := Update(cfg, []Command{
		cmd(map[string]any{"records": json.Number("8")}),
		cmd(map[string]any{"samples": json.Number("512"), "bogus": true}),
	})

	assert.True(t, res.Changed)
	assert.Equal(t, []string{"bogus"}, res.Unknown)
	assert.Empty(t, res.Rejected)
	assert.Equal(t, 8, out.Records)
	assert.Equal(t, 512, out.Samples)
	assert.Equal(t, 8, out.ReadRecords, "read counts follow records")
	assert.Equal(t, 512, out.ReadSamples)

	assert.Equal(t, 1, cfg.Records, "input is not modified")
}

func TestUpdateHonorsStartupOverrides(t *testing.T) {
	cfg := finalized(t, func(c *config.Config) {
		c.ReadRecords = 2
		c.ReadSamples = 100
	})

	out, _ := Update(cfg, []Command{cmd(map[string]any{"records": 10, "samples": 1000})})
	assert.Equal(t, 10, out.Records)
	assert.Equal(t, 2, out.ReadRecords)
	assert.Equal(t, 100, out.ReadSamples)
}

func TestUpdateSameValueIsNoChange(t *testing.T) {
	cfg := finalized(t, nil)
	out, res := Update(cfg, []Command{cmd(map[string]any{"records": 1, "samples": 200})})
	assert.False(t, res.Changed)
	assert.Empty(t, res.Changes)
	assert.Equal(t, cfg.Records, out.Records)
}

func TestUpdateLaterCommandWins(t *testing.T) {
	cfg := finalized(t, nil)
	out, res := Update(cfg, []Command{
		cmd(map[string]any{"samples": 300}),
		cmd(map[string]any{"samples": 400}),
	})
	assert.True(t, res.Changed)
	assert.Len(t, res.Changes, 2)
	assert.Equal(t, 400, out.Samples)
}

func TestUpdateRejectsCommandAtomically(t *testing.T) {
	cfg := finalized(t, nil)

	out, res := Update(cfg, []Command{
		cmd(map[string]any{"samples": 300, "records": "many"}),
	})
	assert.False(t, res.Changed)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "records", res.Rejected[0].Key)
	assert.Equal(t, 200, out.Samples, "sibling key is not applied")
}

func TestUpdateRejectsInvalidConfiguration(t *testing.T) {
	cfg := finalized(t, nil)

	out, res := Update(cfg, []Command{
		cmd(map[string]any{"records": -3}),
		cmd(map[string]any{"samples": 250}),
	})
	require.Len(t, res.Rejected, 1)
	assert.Empty(t, res.Rejected[0].Key)
	assert.Equal(t, 1, out.Records)
	assert.Equal(t, 250, out.Samples)
	assert.True(t, res.Changed)
}

func TestCheck(t *testing.T) {
	cfg := finalized(t, nil)

	tests := []struct {
		name   string
		params map[string]any
		want   error
	}{
		{"accepted", map[string]any{"records": 4}, nil},
		{"unchanged", map[string]any{"records": 1}, nil},
		{"unknown key", map[string]any{"bogus": 1}, ErrUnknownParameter},
		{"bad value", map[string]any{"records": "many"}, ErrInvalidParameter},
		{"invalid result", map[string]any{"samples": 0}, ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(cfg, cmd(tt.params))
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 1, cfg.Records, "Check does not modify cfg")
}
