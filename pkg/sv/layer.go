// Package sv implements the IEC 61850-9-2 Sampled Values PDU as a gopacket
// layer. Only the single-ASDU, 8-channel dataset layout is supported.
package sv

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EthernetTypeSampledValues is the EtherType assigned to IEC 61850-9-2 SV.
const EthernetTypeSampledValues layers.EthernetType = 0x88BA

// LayerTypeSampledValues is registered with gopacket so that Ethernet frames
// carrying 0x88BA decode into *SampledValues.
var LayerTypeSampledValues = gopacket.RegisterLayerType(61850, gopacket.LayerTypeMetadata{
	Name:    "SampledValues",
	Decoder: gopacket.DecodeFunc(decodeSampledValues),
})

func init() {
	layers.EthernetTypeMetadata[EthernetTypeSampledValues] = layers.EnumMetadata{
		DecodeWith: LayerTypeSampledValues,
		Name:       "SampledValues",
		LayerType:  LayerTypeSampledValues,
	}
}

// ChannelValue is one dataset entry.
type ChannelValue struct {
	Value   int32
	Quality uint32
}

// SampledValues is the SV header plus its single ASDU.
type SampledValues struct {
	layers.BaseLayer

	AppID     uint16
	Length    uint16
	Reserved1 uint16
	Reserved2 uint16

	SvID     string
	SmpCnt   uint16
	ConfRev  uint32
	SmpSynch uint8
	Data     [ChannelCount]ChannelValue
}

func (s *SampledValues) LayerType() gopacket.LayerType { return LayerTypeSampledValues }

func (s *SampledValues) CanDecode() gopacket.LayerClass { return LayerTypeSampledValues }

func (s *SampledValues) NextLayerType() gopacket.LayerType {
	if len(s.Payload) > 0 {
		return gopacket.LayerTypePayload
	}
	return gopacket.LayerTypeZero
}

// SerializeTo writes the header and ASDU. BER lengths are always derived from
// the svID length; the header Length field is only rewritten with FixLengths.
func (s *SampledValues) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if err := checkVisibleString(s.SvID); err != nil {
		return err
	}
	l, err := NewLayout(len(s.SvID))
	if err != nil {
		return err
	}
	bytes, err := b.PrependBytes(l.Length)
	if err != nil {
		return err
	}
	if opts.FixLengths {
		s.Length = uint16(l.Length)
	}

	binary.BigEndian.PutUint16(bytes[0:2], s.AppID)
	binary.BigEndian.PutUint16(bytes[2:4], s.Length)
	binary.BigEndian.PutUint16(bytes[4:6], s.Reserved1)
	binary.BigEndian.PutUint16(bytes[6:8], s.Reserved2)

	w := HeaderLength
	bytes[w] = TagSavPDU
	w++
	w += putLength(bytes[w:], l.SavPDULength)
	bytes[w], bytes[w+1], bytes[w+2] = TagNoASDU, 0x01, 0x01
	w += 3
	bytes[w] = TagSeqASDU
	w++
	w += putLength(bytes[w:], l.SeqASDULength)
	bytes[w] = TagASDU
	w++
	w += putLength(bytes[w:], l.ASDULength)
	bytes[w] = TagSvID
	w++
	w += putLength(bytes[w:], l.SvIDLen)
	w += copy(bytes[w:], s.SvID)

	bytes[w], bytes[w+1] = TagSmpCnt, 0x02
	binary.BigEndian.PutUint16(bytes[w+2:], s.SmpCnt)
	w += 4
	bytes[w], bytes[w+1] = TagConfRev, 0x04
	binary.BigEndian.PutUint32(bytes[w+2:], s.ConfRev)
	w += 6
	bytes[w], bytes[w+1], bytes[w+2] = TagSmpSynch, 0x01, s.SmpSynch
	w += 3
	bytes[w], bytes[w+1] = TagSeqData, SeqDataLength
	w += 2
	for _, ch := range s.Data {
		binary.BigEndian.PutUint32(bytes[w:], uint32(ch.Value))
		binary.BigEndian.PutUint32(bytes[w+4:], ch.Quality)
		w += 8
	}
	if w != l.Length {
		return fmt.Errorf("sv: wrote %d bytes, layout expects %d", w, l.Length)
	}
	return nil
}

func (s *SampledValues) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderLength {
		df.SetTruncated()
		return fmt.Errorf("sv: header needs %d bytes, got %d", HeaderLength, len(data))
	}
	*s = SampledValues{}
	s.AppID = binary.BigEndian.Uint16(data[0:2])
	s.Length = binary.BigEndian.Uint16(data[2:4])
	s.Reserved1 = binary.BigEndian.Uint16(data[4:6])
	s.Reserved2 = binary.BigEndian.Uint16(data[6:8])
	if int(s.Length) < HeaderLength || int(s.Length) > len(data) {
		df.SetTruncated()
		return fmt.Errorf("sv: length field %d invalid for %d bytes", s.Length, len(data))
	}

	tag, pdu, _, err := readTLV(data[HeaderLength:s.Length])
	if err != nil {
		return fmt.Errorf("sv: savPDU: %w", err)
	}
	if tag != TagSavPDU {
		return fmt.Errorf("sv: expected savPDU tag 0x%02x, got 0x%02x", TagSavPDU, tag)
	}
	if err := s.decodeSavPDU(pdu); err != nil {
		return err
	}

	s.Contents = data[:s.Length]
	s.Payload = data[s.Length:]
	return nil
}

func (s *SampledValues) decodeSavPDU(pdu []byte) error {
	var asdu []byte
	for len(pdu) > 0 {
		tag, value, rest, err := readTLV(pdu)
		if err != nil {
			return fmt.Errorf("sv: savPDU: %w", err)
		}
		switch tag {
		case TagNoASDU:
			if len(value) != 1 || value[0] != 1 {
				return fmt.Errorf("sv: only a single ASDU is supported, noASDU=%v", value)
			}
		case TagSeqASDU:
			t, v, trailing, err := readTLV(value)
			if err != nil {
				return fmt.Errorf("sv: seqASDU: %w", err)
			}
			if t != TagASDU || len(trailing) != 0 {
				return fmt.Errorf("sv: seqASDU must hold exactly one ASDU")
			}
			asdu = v
		}
		pdu = rest
	}
	if asdu == nil {
		return fmt.Errorf("sv: savPDU has no ASDU")
	}
	return s.decodeASDU(asdu)
}

func (s *SampledValues) decodeASDU(asdu []byte) error {
	var seen struct{ svID, smpCnt, confRev, smpSynch, seqData bool }
	for len(asdu) > 0 {
		tag, value, rest, err := readTLV(asdu)
		if err != nil {
			return fmt.Errorf("sv: ASDU: %w", err)
		}
		switch tag {
		case TagSvID:
			s.SvID = string(value)
			seen.svID = true
		case TagSmpCnt:
			if len(value) != 2 {
				return fmt.Errorf("sv: smpCnt length %d", len(value))
			}
			s.SmpCnt = binary.BigEndian.Uint16(value)
			seen.smpCnt = true
		case TagConfRev:
			if len(value) != 4 {
				return fmt.Errorf("sv: confRev length %d", len(value))
			}
			s.ConfRev = binary.BigEndian.Uint32(value)
			seen.confRev = true
		case TagSmpSynch:
			if len(value) != 1 {
				return fmt.Errorf("sv: smpSynch length %d", len(value))
			}
			s.SmpSynch = value[0]
			seen.smpSynch = true
		case TagSeqData:
			if len(value) != SeqDataLength {
				return fmt.Errorf("sv: seqData length %d, want %d", len(value), SeqDataLength)
			}
			for i := range s.Data {
				s.Data[i].Value = int32(binary.BigEndian.Uint32(value[i*8:]))
				s.Data[i].Quality = binary.BigEndian.Uint32(value[i*8+4:])
			}
			seen.seqData = true
		case TagDatSet, TagRefrTm, TagSmpRate, TagSmpMod:
			// optional elements, not kept
		default:
			return fmt.Errorf("sv: unknown ASDU tag 0x%02x", tag)
		}
		asdu = rest
	}
	if !seen.svID || !seen.smpCnt || !seen.confRev || !seen.smpSynch || !seen.seqData {
		return fmt.Errorf("sv: ASDU missing mandatory element")
	}
	return nil
}

func decodeSampledValues(data []byte, p gopacket.PacketBuilder) error {
	s := &SampledValues{}
	if err := s.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(s)
	if len(s.Payload) == 0 {
		return nil
	}
	return p.NextDecoder(gopacket.LayerTypePayload)
}

func checkVisibleString(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return fmt.Errorf("sv: svID %q is not 7-bit ASCII (byte %d)", s, i)
		}
	}
	return nil
}
