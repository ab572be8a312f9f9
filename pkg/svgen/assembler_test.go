package svgen

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takehaya/svpcap/pkg/waveform"
)

func smallConfig(t *testing.T, mutate func(*Params)) Config {
	t.Helper()
	p := DefaultParams()
	p.StreamCount = 3
	p.Iterations = 200
	if mutate != nil {
		mutate(&p)
	}
	cfg, err := p.Validate()
	require.NoError(t, err)
	return cfg
}

func generate(t *testing.T, cfg Config) []byte {
	t.Helper()
	g, err := NewGenerator(cfg, nil)
	require.NoError(t, err)
	out, err := g.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, out, g.Size())
	return out
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		i, stream, rate int
		sec, usec       uint32
	}{
		{0, 0, 4800, 1, 1},
		{1, 0, 4800, 1, 209},
		{4799, 0, 4800, 1, 999793},
		{4800, 0, 4800, 2, 1},
		{3, 0, 4000, 1, 751},
		{999999, 0, 1_000_000, 2, 0},
		{0, 2, 4800, 1, 3},
		{1, 207, 4800, 1, 416},
		{4799, 207, 4800, 2, 0},
	}
	for _, tt := range tests {
		sec, usec := Timestamp(tt.i, tt.stream, tt.rate)
		assert.Equal(t, tt.sec, sec, "i=%d stream=%d rate=%d", tt.i, tt.stream, tt.rate)
		assert.Equal(t, tt.usec, usec, "i=%d stream=%d rate=%d", tt.i, tt.stream, tt.rate)
	}
}

func TestTimestamp_StrictlyIncreasing(t *testing.T) {
	for _, rate := range []int{4000, 4800, 6400, 333_360} {
		streams := 1_000_000 / rate
		var prev uint64
		for i := 0; i < 2*rate/streams+10; i++ {
			for s := 0; s < streams; s++ {
				sec, usec := Timestamp(i, s, rate)
				ts := uint64(sec)*1_000_000 + uint64(usec)
				if ts <= prev {
					t.Fatalf("rate=%d i=%d stream=%d: %d not after %d", rate, i, s, ts, prev)
				}
				prev = ts
			}
		}
	}
}

func TestSmpCnt(t *testing.T) {
	assert.Equal(t, uint16(0), SmpCnt(0, 4800))
	assert.Equal(t, uint16(4799), SmpCnt(4799, 4800))
	assert.Equal(t, uint16(0), SmpCnt(4800, 4800))
	assert.Equal(t, uint16(65535), SmpCnt(65535, 80*1000))
}

func TestGenerate_GlobalHeader(t *testing.T) {
	out := generate(t, smallConfig(t, nil))
	want := []byte{
		0xd4, 0xc3, 0xb2, 0xa1, 0x02, 0x00, 0x04, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x04, 0x00, 0x01, 0x00, 0x00, 0x00,
	}
	assert.Equal(t, want, out[:PcapHeaderLength])
}

func TestGenerate_RoundTrip(t *testing.T) {
	cfg := smallConfig(t, func(p *Params) { p.AppID = 0x4123 })
	out := generate(t, cfg)
	streams := int(cfg.StreamCount)

	n := 0
	_, err := ReadRecords(bytes.NewReader(out), func(rec Record) error {
		i, s := rec.Index/streams, rec.Index%streams

		assert.Equal(t, rec.DataLength, rec.CaptureLength)
		assert.Equal(t, rec.DataLength, rec.Length)
		assert.Equal(t, uint16(0x4123), rec.AppID)
		assert.Equal(t, cfg.SvID(s), rec.SvID)
		assert.Equal(t, SmpCnt(i, cfg.SamplingRate()), rec.SmpCnt)
		assert.Equal(t, uint32(1), rec.ConfRev)

		sec, usec := Timestamp(i, s, cfg.SamplingRate())
		assert.Equal(t, sec, rec.Sec)
		assert.Equal(t, usec, rec.Usec)

		for k, ch := range waveform.Channels {
			v, err := waveform.Sample(ch, i, cfg.Waveform)
			require.NoError(t, err)
			assert.Equal(t, v, rec.Channels[k].Value, "%s i=%d", ch.Name, i)
			assert.Zero(t, rec.Channels[k].Quality)
		}
		assert.Zero(t, rec.Channels[3].Value)
		assert.Zero(t, rec.Channels[7].Value)
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, cfg.Iterations*streams, n)
}

func TestGenerate_FirstRecordValues(t *testing.T) {
	out := generate(t, smallConfig(t, nil))
	rec := out[PcapHeaderLength:]

	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(rec[0:4]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(rec[4:8]))
	assert.Equal(t, "svID0000", string(rec[0x31:0x39]))

	recLen, err := smallConfig(t, nil).RecordLen()
	require.NoError(t, err)
	second := out[PcapHeaderLength+recLen:]
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(second[0:4]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(second[4:8]))
	assert.Equal(t, "svID0001", string(second[0x31:0x39]))

	var got []Record
	_, err = ReadRecords(bytes.NewReader(out), func(r Record) error {
		if r.Index == 0 {
			got = append(got, r)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(0), got[0].Channels[0].Value)
	assert.Equal(t, int32(8061), got[0].Channels[4].Value)
}

func TestGenerate_Deterministic(t *testing.T) {
	one := generate(t, smallConfig(t, func(p *Params) { p.Workers = 1 }))
	again := generate(t, smallConfig(t, func(p *Params) { p.Workers = 1 }))
	many := generate(t, smallConfig(t, func(p *Params) { p.Workers = 7 }))
	more := generate(t, smallConfig(t, func(p *Params) { p.Workers = 500 }))

	assert.True(t, bytes.Equal(one, again))
	assert.True(t, bytes.Equal(one, many))
	assert.True(t, bytes.Equal(one, more))
}

func TestGenerate_SmpCntWraps(t *testing.T) {
	cfg := smallConfig(t, func(p *Params) {
		p.StreamCount = 1
		p.Iterations = 4802
	})
	out := generate(t, cfg)

	var cnts []uint16
	_, err := ReadRecords(bytes.NewReader(out), func(r Record) error {
		if r.Index >= 4799 {
			cnts = append(cnts, r.SmpCnt)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint16{4799, 0, 1}, cnts)
}

func TestGenerate_Verify(t *testing.T) {
	cfg := smallConfig(t, nil)
	rep, err := Verify(bytes.NewReader(generate(t, cfg)))
	require.NoError(t, err)
	assert.Equal(t, 600, rep.Records)
	assert.Equal(t, map[string]int{"svID0000": 200, "svID0001": 200, "svID0002": 200}, rep.Streams)
	assert.Equal(t, map[uint16]int{0x4000: 600}, rep.AppIDs)
	assert.Equal(t, uint32(PcapSnapLen), rep.SnapLen)
	assert.True(t, rep.Last.After(rep.First))
}

func TestGenerate_EncodingErrorAborts(t *testing.T) {
	cfg := smallConfig(t, func(p *Params) { p.VoltageRMS = 1e9 })
	g, err := NewGenerator(cfg, nil)
	require.NoError(t, err)

	out, err := g.Generate(context.Background())
	assert.Nil(t, out)
	var ee *EncodingError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, "Va", ee.Field)
	var oe *waveform.OverflowError
	assert.True(t, errors.As(err, &oe))
}

func TestGenerate_Canceled(t *testing.T) {
	g, err := NewGenerator(smallConfig(t, nil), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify_DetectsBrokenRecords(t *testing.T) {
	cfg := smallConfig(t, func(p *Params) {
		p.StreamCount = 1
		p.Iterations = 4
	})
	recLen, err := cfg.RecordLen()
	require.NoError(t, err)

	t.Run("zero timestamp", func(t *testing.T) {
		out := generate(t, cfg)
		copy(out[PcapHeaderLength:], make([]byte, 8))
		_, err := Verify(bytes.NewReader(out))
		var re *RecordError
		require.True(t, errors.As(err, &re), "got %v", err)
		assert.Equal(t, 0, re.Index)
	})

	t.Run("stream timestamp repeats", func(t *testing.T) {
		out := generate(t, cfg)
		r0 := out[PcapHeaderLength:]
		r1 := out[PcapHeaderLength+recLen:]
		copy(r1[:8], r0[:8])
		_, err := Verify(bytes.NewReader(out))
		var re *RecordError
		require.True(t, errors.As(err, &re), "got %v", err)
		assert.Equal(t, 1, re.Index)
	})

	t.Run("timestamp repeats across streams", func(t *testing.T) {
		multi := smallConfig(t, func(p *Params) { p.Iterations = 4 })
		recLen, err := multi.RecordLen()
		require.NoError(t, err)
		out := generate(t, multi)
		r0 := out[PcapHeaderLength:]
		r1 := out[PcapHeaderLength+recLen:]
		copy(r1[:8], r0[:8])
		_, err = Verify(bytes.NewReader(out))
		var re *RecordError
		require.True(t, errors.As(err, &re), "got %v", err)
		assert.Equal(t, 1, re.Index)
	})

	t.Run("not sv", func(t *testing.T) {
		out := generate(t, cfg)
		binary.BigEndian.PutUint16(out[PcapHeaderLength+28:], 0x0800)
		_, err := Verify(bytes.NewReader(out))
		assert.Error(t, err)
	})

	t.Run("truncated file", func(t *testing.T) {
		out := generate(t, cfg)
		_, err := Verify(bytes.NewReader(out[:len(out)-10]))
		assert.Error(t, err)
	})
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pcap")
	data := []byte("capture")

	require.NoError(t, WriteFileAtomic(path, data))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, WriteFileAtomic(path, []byte("replaced")))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(got))
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	missing := filepath.Join(dir, "nope", "out.pcap")
	err = WriteFileAtomic(missing, data)
	var ioe *IOError
	require.True(t, errors.As(err, &ioe))
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))
}
