package svpcap

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takehaya/svpcap/pkg/logger"
	"github.com/takehaya/svpcap/pkg/svgen"
)

func newTestSvPcap(t *testing.T, out string, mutate func(*svgen.Params)) *SvPcap {
	t.Helper()
	p := svgen.DefaultParams()
	p.StreamCount = 4
	p.Iterations = 160
	if mutate != nil {
		mutate(&p)
	}
	x, err := NewSvPcap(Config{
		LoggerConfig: logger.Config{Quiet: true},
		Params:       p,
		Output:       out,
	})
	require.NoError(t, err)
	t.Cleanup(x.Close)
	return x
}

func TestGenerate_WritesVerifiableCapture(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sv.pcap")
	x := newTestSvPcap(t, out, nil)

	sum, err := x.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 640, sum.Frames)
	assert.Equal(t, 4800, sum.SamplingRate)
	assert.Equal(t, 0x80+8, sum.RecordLen)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(sum.Bytes), info.Size())

	rep, err := x.Verify(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 640, rep.Records)
	assert.Len(t, rep.Streams, 4)

	var buf bytes.Buffer
	PrintSummary(&buf, sum)
	assert.Contains(t, buf.String(), "640 frames (4 streams x 160 iterations)")

	buf.Reset()
	PrintReport(&buf, out, rep)
	assert.Contains(t, buf.String(), "app id 0x4000: 640 records")
	assert.Contains(t, buf.String(), "svID0003: 160 records")
}

func TestGenerate_Idempotent(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.pcap"), filepath.Join(dir, "b.pcap")

	_, err := newTestSvPcap(t, a, nil).Generate(context.Background())
	require.NoError(t, err)
	_, err = newTestSvPcap(t, b, func(p *svgen.Params) { p.Workers = 3 }).Generate(context.Background())
	require.NoError(t, err)

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(da, db))
}

func TestGenerate_ConfigErrorWritesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*svgen.Params)
		want   svgen.Constraint
	}{
		{"app id below range", func(p *svgen.Params) { p.AppID = 0x3FFF }, svgen.ConstraintAppID},
		{"id range", func(p *svgen.Params) { p.StartID = 9998; p.StreamCount = 5 }, svgen.ConstraintIDRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "sv.pcap")
			_, err := newTestSvPcap(t, out, tt.mutate).Generate(context.Background())

			var ce *svgen.ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.want, ce.Constraint)
			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestGenerate_EncodingErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sv.pcap")
	_, err := newTestSvPcap(t, out, func(p *svgen.Params) { p.CurrentRMS = 1e7 }).Generate(context.Background())

	var ee *svgen.EncodingError
	require.True(t, errors.As(err, &ee), "got %v", err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_KeepsExistingFileOnFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sv.pcap")
	require.NoError(t, os.WriteFile(out, []byte("previous"), 0o644))

	_, err := newTestSvPcap(t, out, func(p *svgen.Params) { p.FrequencyHz = -60 }).Generate(context.Background())
	require.Error(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}

func TestGenerate_OutputRequired(t *testing.T) {
	_, err := newTestSvPcap(t, "", nil).Generate(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "output"))
}

func TestVerify_MissingFile(t *testing.T) {
	x := newTestSvPcap(t, "unused", nil)
	_, err := x.Verify(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"))
	var ioe *svgen.IOError
	assert.True(t, errors.As(err, &ioe))
}
