package svgen

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/takehaya/svpcap/pkg/sv"
)

// Record is one decoded capture record.
type Record struct {
	Index         int
	Sec           uint32
	Usec          uint32
	CaptureLength int
	Length        int
	DataLength    int

	AppID    uint16
	SvID     string
	SmpCnt   uint16
	ConfRev  uint32
	Channels [sv.ChannelCount]sv.ChannelValue
}

// Time returns the record timestamp.
func (r Record) Time() time.Time {
	return time.Unix(int64(r.Sec), int64(r.Usec)*1000).UTC()
}

// RecordError reports a record that breaks a capture invariant.
type RecordError struct {
	Index  int
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

// ReadRecords decodes every SV record of a pcap stream and calls fn for each,
// in file order.
func ReadRecords(r io.Reader, fn func(Record) error) (*pcapgo.Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	if pr.LinkType() != layers.LinkTypeEthernet {
		return pr, fmt.Errorf("unexpected link type %v", pr.LinkType())
	}

	var (
		eth     layers.Ethernet
		pdu     sv.SampledValues
		decoded []gopacket.LayerType
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &pdu)
	parser.IgnoreUnsupported = true

	for i := 0; ; i++ {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			return pr, nil
		}
		if err != nil {
			return pr, fmt.Errorf("record %d: %w", i, err)
		}
		rec := Record{
			Index:         i,
			Sec:           uint32(ci.Timestamp.Unix()),
			Usec:          uint32(ci.Timestamp.Nanosecond() / 1000),
			CaptureLength: ci.CaptureLength,
			Length:        ci.Length,
			DataLength:    len(data),
		}
		if err := parser.DecodeLayers(data, &decoded); err != nil {
			return pr, &RecordError{Index: i, Reason: err.Error()}
		}
		if len(decoded) != 2 || decoded[1] != sv.LayerTypeSampledValues {
			return pr, &RecordError{Index: i, Reason: fmt.Sprintf("not a sampled values frame (ethertype %v)", eth.EthernetType)}
		}
		rec.AppID = pdu.AppID
		rec.SvID = pdu.SvID
		rec.SmpCnt = pdu.SmpCnt
		rec.ConfRev = pdu.ConfRev
		rec.Channels = pdu.Data
		if err := fn(rec); err != nil {
			return pr, err
		}
	}
}

// Report summarizes a verified capture.
type Report struct {
	LinkType layers.LinkType
	SnapLen  uint32
	Records  int
	Streams  map[string]int
	AppIDs   map[uint16]int
	First    time.Time
	Last     time.Time
}

// Verify checks that every record is an SV frame with caplen == origlen ==
// frame length, a non-zero timestamp, and a timestamp strictly after the
// previous record. Per-stream order is checked separately so the error names
// the stream.
func Verify(r io.Reader) (*Report, error) {
	rep := &Report{
		Streams: make(map[string]int),
		AppIDs:  make(map[uint16]int),
	}
	var prev time.Time
	last := make(map[string]time.Time)

	pr, err := ReadRecords(r, func(rec Record) error {
		if rec.CaptureLength != rec.Length || rec.CaptureLength != rec.DataLength {
			return &RecordError{Index: rec.Index, Reason: fmt.Sprintf("caplen %d, origlen %d, data %d differ", rec.CaptureLength, rec.Length, rec.DataLength)}
		}
		if rec.Sec == 0 && rec.Usec == 0 {
			return &RecordError{Index: rec.Index, Reason: "zero timestamp"}
		}
		ts := rec.Time()
		if rec.Index > 0 && !ts.After(prev) {
			return &RecordError{Index: rec.Index, Reason: fmt.Sprintf("timestamp %v not after previous %v", ts, prev)}
		}
		if t, ok := last[rec.SvID]; ok && !ts.After(t) {
			return &RecordError{Index: rec.Index, Reason: fmt.Sprintf("stream %s timestamp %v not after %v", rec.SvID, ts, t)}
		}
		last[rec.SvID] = ts
		prev = ts

		if rep.Records == 0 {
			rep.First = ts
		}
		rep.Last = ts
		rep.Records++
		rep.Streams[rec.SvID]++
		rep.AppIDs[rec.AppID]++
		return nil
	})
	if pr != nil {
		rep.LinkType = pr.LinkType()
		rep.SnapLen = pr.Snaplen()
	}
	if err != nil {
		return rep, err
	}
	return rep, nil
}

// VerifyFile opens path and runs Verify on it.
func VerifyFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return Verify(f)
}
