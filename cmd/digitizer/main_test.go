package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/sink"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/trace"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv("DIGITIZER_CONFIG", "")
	path := filepath.Join(t.TempDir(), "digitizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigFlags(t *testing.T) {
	path := writeConfig(t, "resources: [\"SIM:U5303A\"]\nrecords: 4\n")

	f := &runFlags{}
	cmd := runCommand(f)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--loops", "5", "--samples", "512"}))

	cfg, err := loadConfig(cmd, *f, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"SIM:U5303A"}, cfg.Resources)
	assert.Equal(t, 5, cfg.Loops)
	assert.Equal(t, 4, cfg.Records, "unset flags keep the file value")
	assert.Equal(t, 512, cfg.Samples)
	assert.Equal(t, 512, cfg.ReadSamples, "read counts follow the acquisition counts")

	cfg, err = loadConfig(cmd, *f, []string{"SIM:M9703A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"SIM:M9703A"}, cfg.Resources)
}

func TestLoadConfigErrors(t *testing.T) {
	path := writeConfig(t, "records: 1\n")

	f := &runFlags{}
	cmd := runCommand(f)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path}))
	_, err := loadConfig(cmd, *f, nil)
	assert.ErrorContains(t, err, "no resource")

	_, err = loadConfig(cmd, *f, []string{"SIM:M9703A", "SIM:U5303A"})
	assert.ErrorContains(t, err, "one resource per run")

	require.NoError(t, cmd.ParseFlags([]string{"--records", "0"}))
	_, err = loadConfig(cmd, *f, []string{"SIM:M9703A"})
	assert.Error(t, err)
}

// TestRunProcess is the child process of TestRunEndsWhenReaderCloses.
func TestRunProcess(t *testing.T) {
	if os.Getenv("DIGITIZER_TEST_PROCESS") != "1" {
		t.Skip("runs as a child process only")
	}
	root := newRootCommand()
	root.SetArgs([]string{"run", "SIM:M9703A", "--no-stdin", "--loops", "-1"})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestRunEndsWhenReaderCloses(t *testing.T) {
	path := writeConfig(t, "no_calibrate: true\nsamples: 64\n")

	r, w, err := os.Pipe()
	require.NoError(t, err)
	var stderr bytes.Buffer
	child := exec.Command(os.Args[0], "-test.run=^TestRunProcess$")
	child.Env = append(os.Environ(), "DIGITIZER_TEST_PROCESS=1", "DIGITIZER_CONFIG="+path)
	child.Stdout = w
	child.Stderr = &stderr
	require.NoError(t, child.Start())
	require.NoError(t, w.Close())

	in := bufio.NewReader(r)
	for i := 0; i < 3; i++ {
		line, err := in.ReadString('\n')
		require.NoError(t, err)
		require.NotEmpty(t, line)
	}
	require.NoError(t, r.Close())

	require.NoError(t, child.Wait(), "stderr: %s", stderr.String())
	assert.Equal(t, 0, child.ProcessState.ExitCode())
	assert.Contains(t, stderr.String(), "downstream closed, ending run")
	assert.Contains(t, stderr.String(), "acquisition finished")
}

func TestRunWritesArchive(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "run.trc")
	path := writeConfig(t, "no_calibrate: true\nsamples: 64\nservice:\n  log_level: error\n  archive_path: "+archive+"\n")

	root := newRootCommand()
	root.SetArgs([]string{"run", "SIM:M9703A", "--config", path, "--loops", "2", "--no-stdin", "--no-stdout"})
	require.NoError(t, root.Execute())

	rc, err := sink.OpenArchive(archive, false)
	require.NoError(t, err)
	defer rc.Close()
	aggs, err := trace.DecodeAll(rc)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	rec, err := aggs[0].Record(0)
	require.NoError(t, err)
	wf, err := rec.Channel(0)
	require.NoError(t, err)
	assert.Equal(t, 64, wf.ActualPoints())
}

func testRecord(t *testing.T, records int) waveform.Aggregate {
	t.Helper()
	m := waveform.NewMultiRecord()
	first := make([]int, records)
	points := make([]int, records)
	zeros := make([]float64, records)
	samples := make(waveform.Int16s, 8*records)
	for i := range records {
		first[i] = 8 * i
		points[i] = 8
		for j := range 8 {
			samples[8*i+j] = int16(100*i + j)
		}
	}
	require.NoError(t, m.Append(&waveform.MultiFetch{
		Samples:              samples,
		ActualRecords:        records,
		ActualPoints:         points,
		FirstValidPoint:      first,
		InitialXOffset:       zeros,
		InitialXTimeSeconds:  zeros,
		InitialXTimeFraction: zeros,
		XIncrement:           1e-9,
		ScaleFactor:          1,
	}))
	return m
}

func TestSliceArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.trc.sz")
	a, err := sink.CreateArchive(path, true)
	require.NoError(t, err)
	require.NoError(t, a.Write(testRecord(t, 3)))
	require.NoError(t, a.Close())

	var out, errw bytes.Buffer
	f := sliceFlags{input: path, snappy: true, window: trace.Window{RecordStart: 1, RecordCount: -1, SampleStart: 2, SampleCount: 4}}
	require.NoError(t, slice(nil, &out, &errw, f))
	assert.Equal(t, "2 records\n", errw.String())

	aggs, err := trace.DecodeAll(&out)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	rec, err := aggs[0].Record(0)
	require.NoError(t, err)
	wf, err := rec.Channel(0)
	require.NoError(t, err)
	assert.Equal(t, 4, wf.ActualPoints())
}

func TestRunControl(t *testing.T) {
	in := strings.NewReader("2 100\n\nbogus\n4 50\n")
	var out, errw bytes.Buffer
	require.NoError(t, runControl(in, command.NewEmitter(&out), &errw))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first map[string]int
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, map[string]int{"records": 2, "samples": 100}, first)
	assert.Contains(t, errw.String(), `ignored "bogus"`)
}

func TestParseCounts(t *testing.T) {
	tests := []struct {
		line    string
		records int
		samples int
		wantErr bool
	}{
		{"1 200", 1, 200, false},
		{"  8\t1024 ", 8, 1024, false},
		{"8", 0, 0, true},
		{"a 1", 0, 0, true},
		{"1 b", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			r, s, err := parseCounts(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.records, r)
			assert.Equal(t, tt.samples, s)
		})
	}
}
