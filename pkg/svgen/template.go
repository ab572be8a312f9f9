package svgen

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/takehaya/svpcap/pkg/sv"
)

const (
	// RecordHeaderLength is ts_sec + ts_usec + caplen + origlen.
	RecordHeaderLength   = 16
	EthernetHeaderLength = 14
	// svBase is where the SV header (AppID) starts inside a record.
	svBase = RecordHeaderLength + EthernetHeaderLength
)

// Names of the mutable fields of a FrameTemplate.
const (
	FieldTimestampSec  = "timestamp_sec"
	FieldTimestampUsec = "timestamp_usec"
	FieldCapLen        = "caplen"
	FieldOrigLen       = "origlen"
	FieldAppID         = "app_id"
	FieldSvID          = "sv_id"
	FieldSmpCnt        = "smp_cnt"
	FieldSeqData       = "seq_data"
)

// Field locates one fixed-width field inside a record.
type Field struct {
	Name   string
	Offset int
	Length int
	Endian binary.ByteOrder
}

// FrameTemplate is one complete capture record (record header + Ethernet
// frame) for a fixed svID length. It is never modified after BuildTemplate;
// per-frame values are written into clones.
type FrameTemplate struct {
	data   []byte
	layout sv.Layout
	fields map[string]Field
}

// BuildTemplate serializes the Ethernet and SV layers for svID and records
// where each mutable field lives.
func BuildTemplate(svID string, appID uint16, dst, src net.HardwareAddr) (*FrameTemplate, error) {
	layout, err := sv.NewLayout(len(svID))
	if err != nil {
		return nil, &EncodingError{Iteration: -1, Field: FieldSvID, Err: err}
	}

	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{
		DstMAC:       dst,
		SrcMAC:       src,
		EthernetType: sv.EthernetTypeSampledValues,
	}
	pdu := &sv.SampledValues{
		AppID:   appID,
		SvID:    svID,
		ConfRev: sv.DefaultConfRev,
	}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, pdu); err != nil {
		return nil, &EncodingError{Iteration: -1, Field: "frame", Err: fmt.Errorf("failed to serialize frame: %w", err)}
	}
	frame := buf.Bytes()
	if len(frame) != EthernetHeaderLength+layout.Length {
		return nil, &EncodingError{Iteration: -1, Field: "frame",
			Err: fmt.Errorf("serialized %d bytes, layout expects %d", len(frame), EthernetHeaderLength+layout.Length)}
	}

	data := make([]byte, RecordHeaderLength+len(frame))
	binary.LittleEndian.PutUint32(data[8:12], uint32(len(frame)))
	binary.LittleEndian.PutUint32(data[12:16], uint32(len(frame)))
	copy(data[RecordHeaderLength:], frame)

	t := &FrameTemplate{
		data:   data,
		layout: layout,
		fields: map[string]Field{
			FieldTimestampSec:  {FieldTimestampSec, 0, 4, binary.LittleEndian},
			FieldTimestampUsec: {FieldTimestampUsec, 4, 4, binary.LittleEndian},
			FieldCapLen:        {FieldCapLen, 8, 4, binary.LittleEndian},
			FieldOrigLen:       {FieldOrigLen, 12, 4, binary.LittleEndian},
			FieldAppID:         {FieldAppID, svBase, 2, binary.BigEndian},
			FieldSvID:          {FieldSvID, svBase + layout.SvIDOffset, layout.SvIDLen, nil},
			FieldSmpCnt:        {FieldSmpCnt, svBase + layout.SmpCntOffset, 2, binary.BigEndian},
			FieldSeqData:       {FieldSeqData, svBase + layout.SeqDataOffset, sv.SeqDataLength, binary.BigEndian},
		},
	}
	return t, nil
}

// Len is the record length in bytes.
func (t *FrameTemplate) Len() int { return len(t.data) }

// FrameLen is the Ethernet frame length (caplen/origlen).
func (t *FrameTemplate) FrameLen() int { return len(t.data) - RecordHeaderLength }

func (t *FrameTemplate) Layout() sv.Layout { return t.layout }

func (t *FrameTemplate) lookup(name string) (Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// CloneInto copies the template into dst and returns a Frame over it.
func (t *FrameTemplate) CloneInto(dst []byte) (Frame, error) {
	if len(dst) < len(t.data) {
		return Frame{}, fmt.Errorf("destination holds %d bytes, record needs %d", len(dst), len(t.data))
	}
	buf := dst[:len(t.data)]
	copy(buf, t.data)
	return Frame{buf: buf, tmpl: t}, nil
}

// Frame is a mutable working copy of a FrameTemplate. Setters only touch
// bytes inside their field, so lengths never change.
type Frame struct {
	buf  []byte
	tmpl *FrameTemplate
}

func (f Frame) field(name string) Field {
	fl, _ := f.tmpl.lookup(name)
	return fl
}

func (f Frame) SetTimestamp(sec, usec uint32) {
	s, u := f.field(FieldTimestampSec), f.field(FieldTimestampUsec)
	s.Endian.PutUint32(f.buf[s.Offset:], sec)
	u.Endian.PutUint32(f.buf[u.Offset:], usec)
}

func (f Frame) SetAppID(id uint16) {
	a := f.field(FieldAppID)
	a.Endian.PutUint16(f.buf[a.Offset:], id)
}

func (f Frame) SetSmpCnt(cnt uint16) {
	c := f.field(FieldSmpCnt)
	c.Endian.PutUint16(f.buf[c.Offset:], cnt)
}

// SetSvID overwrites the identifier. It must keep the template's length.
func (f Frame) SetSvID(id string) error {
	s := f.field(FieldSvID)
	if len(id) != s.Length {
		return fmt.Errorf("svID %q is %d bytes, template holds %d", id, len(id), s.Length)
	}
	copy(f.buf[s.Offset:s.Offset+s.Length], id)
	return nil
}

// SetChannel writes dataset entry i (0..7).
func (f Frame) SetChannel(i int, value int32, quality uint32) {
	d := f.field(FieldSeqData)
	off := d.Offset + i*8
	d.Endian.PutUint32(f.buf[off:], uint32(value))
	d.Endian.PutUint32(f.buf[off+4:], quality)
}
