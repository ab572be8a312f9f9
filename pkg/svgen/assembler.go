// Package svgen builds pcap captures of IEC 61850-9-2 Sampled Values streams.
package svgen

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/takehaya/svpcap/pkg/waveform"
)

const (
	PcapHeaderLength = 24
	PcapSnapLen      = 262144

	// tcpreplay rejects zero timestamps, so every record is shifted by 1s + 1us
	timestampOffsetUsec = 1_000_001
)

// Generator assembles a full capture for one validated Config.
type Generator struct {
	cfg    Config
	tmpl   *FrameTemplate
	svIDs  []string
	logger *zap.Logger
}

// NewGenerator builds the frame template shared by all streams. Every svID of
// a run has the same length, so one template serves them all.
func NewGenerator(cfg Config, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	svIDs := make([]string, cfg.StreamCount)
	for s := range svIDs {
		svIDs[s] = cfg.SvID(s)
	}
	tmpl, err := BuildTemplate(svIDs[0], cfg.AppID, cfg.DstMAC, cfg.SrcMAC)
	if err != nil {
		return nil, err
	}

	l := tmpl.Layout()
	logger.Debug("frame template built",
		zap.String("first_sv_id", svIDs[0]),
		zap.Int("record_len", tmpl.Len()),
		zap.Int("frame_len", tmpl.FrameLen()),
		zap.Int("sv_length", l.Length),
		zap.Int("sv_id_offset", svBase+l.SvIDOffset),
		zap.Int("smp_cnt_offset", svBase+l.SmpCntOffset),
	)
	return &Generator{cfg: cfg, tmpl: tmpl, svIDs: svIDs, logger: logger}, nil
}

// Template returns the frame template in use.
func (g *Generator) Template() *FrameTemplate { return g.tmpl }

// Size is the exact number of bytes Generate returns.
func (g *Generator) Size() int {
	return PcapHeaderLength + g.cfg.Iterations*int(g.cfg.StreamCount)*g.tmpl.Len()
}

// Timestamp converts iteration i of the given stream into the record
// timestamp. The iteration time is rounded to the microsecond, shifted by the
// replay offset, and stream s is stamped s microseconds later. Validate keeps
// streams within one sample period, so timestamps strictly increase in file
// order.
func Timestamp(i, stream, samplingRate int) (sec, usec uint32) {
	rate := uint64(samplingRate)
	total := (uint64(i)*2_000_000+rate)/(2*rate) + timestampOffsetUsec + uint64(stream)
	return uint32(total / 1_000_000), uint32(total % 1_000_000)
}

// SmpCnt is the sample counter for iteration i; it wraps every second.
func SmpCnt(i, samplingRate int) uint16 {
	return uint16(i % samplingRate)
}

// Generate returns the complete capture file. Records are placed at fixed
// offsets so worker scheduling cannot change the output.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	out := make([]byte, g.Size())

	var hdr bytes.Buffer
	if err := pcapgo.NewWriter(&hdr).WriteFileHeader(PcapSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, &EncodingError{Iteration: -1, Field: "pcap header", Err: err}
	}
	if hdr.Len() != PcapHeaderLength {
		return nil, &EncodingError{Iteration: -1, Field: "pcap header", Err: fmt.Errorf("header is %d bytes", hdr.Len())}
	}
	copy(out, hdr.Bytes())

	workers := g.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > g.cfg.Iterations {
		workers = g.cfg.Iterations
	}
	chunk := (g.cfg.Iterations + workers - 1) / workers

	g.logger.Info("generating capture",
		zap.Int("iterations", g.cfg.Iterations),
		zap.Uint32("streams", g.cfg.StreamCount),
		zap.Int("workers", workers),
		zap.Int("bytes", len(out)),
	)

	eg, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < g.cfg.Iterations; lo += chunk {
		lo := lo
		hi := min(lo+chunk, g.cfg.Iterations)
		eg.Go(func() error {
			return g.fill(ctx, out, lo, hi)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fill writes the records of iterations [lo, hi) into their slots of out.
func (g *Generator) fill(ctx context.Context, out []byte, lo, hi int) error {
	rate := g.cfg.SamplingRate()
	streams := int(g.cfg.StreamCount)
	recLen := g.tmpl.Len()

	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cnt := SmpCnt(i, rate)
		for s := 0; s < streams; s++ {
			off := PcapHeaderLength + (i*streams+s)*recLen
			frame, err := g.tmpl.CloneInto(out[off : off+recLen])
			if err != nil {
				return &EncodingError{Iteration: i, Stream: s, Field: "record", Err: err}
			}
			frame.SetTimestamp(Timestamp(i, s, rate))
			frame.SetAppID(g.cfg.AppID)
			frame.SetSmpCnt(cnt)
			if err := frame.SetSvID(g.svIDs[s]); err != nil {
				return &EncodingError{Iteration: i, Stream: s, Field: FieldSvID, Err: err}
			}
			for k, ch := range waveform.Channels {
				v, err := waveform.Sample(ch, i, g.cfg.Waveform)
				if err != nil {
					return &EncodingError{Iteration: i, Stream: s, Field: ch.Name, Err: err}
				}
				frame.SetChannel(k, v, 0)
			}
		}
	}
	return nil
}
