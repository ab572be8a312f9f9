package sv

import "fmt"

const (
	// HeaderLength covers AppID, Length, Reserved1 and Reserved2.
	HeaderLength = 8
	// ChannelCount is the number of (sample, quality) pairs in the dataset.
	ChannelCount = 8
	// SeqDataLength is the size of the dataset: 8 x (int32 sample + uint32 quality).
	SeqDataLength = ChannelCount * 8
	// MaxSvIDLength bounds the VisibleString carried in the svID element.
	MaxSvIDLength = 255
	// DefaultConfRev is written into every ASDU.
	DefaultConfRev uint32 = 1
)

// fixed ASDU elements besides svID: smpCnt(4) + confRev(6) + smpSynch(3) + seqData(2+64)
const asduFixedLength = 4 + 6 + 3 + 2 + SeqDataLength

// Layout is the byte geometry of a single-ASDU savPDU for one svID length.
// Offsets are relative to the first byte of the SV header (AppID).
type Layout struct {
	SvIDLen int

	// Length is the value of the SV header Length field, header included.
	Length        int
	SavPDULength  int
	SeqASDULength int
	ASDULength    int

	SvIDOffset     int
	SmpCntOffset   int
	ConfRevOffset  int
	SmpSynchOffset int
	SeqDataOffset  int
}

// NewLayout computes every length and offset of the savPDU from the svID
// length alone.
func NewLayout(svIDLen int) (Layout, error) {
	if svIDLen < 1 || svIDLen > MaxSvIDLength {
		return Layout{}, fmt.Errorf("svID length %d out of range [1, %d]", svIDLen, MaxSvIDLength)
	}
	l := Layout{SvIDLen: svIDLen}
	l.ASDULength = 1 + lengthSize(svIDLen) + svIDLen + asduFixedLength
	l.SeqASDULength = 1 + lengthSize(l.ASDULength) + l.ASDULength
	l.SavPDULength = 3 + 1 + lengthSize(l.SeqASDULength) + l.SeqASDULength
	l.Length = HeaderLength + 1 + lengthSize(l.SavPDULength) + l.SavPDULength
	if l.Length > maxBERLength {
		return Layout{}, fmt.Errorf("SV length %d exceeds %d", l.Length, maxBERLength)
	}

	off := HeaderLength + 1 + lengthSize(l.SavPDULength)
	off += 3 // noASDU
	off += 1 + lengthSize(l.SeqASDULength)
	off += 1 + lengthSize(l.ASDULength)
	l.SvIDOffset = off + 1 + lengthSize(svIDLen)
	off = l.SvIDOffset + svIDLen
	l.SmpCntOffset = off + 2
	off += 4
	l.ConfRevOffset = off + 2
	off += 6
	l.SmpSynchOffset = off + 2
	off += 3
	l.SeqDataOffset = off + 2
	off += 2 + SeqDataLength

	if off != l.Length {
		return Layout{}, fmt.Errorf("inconsistent layout: fields end at %d, length is %d", off, l.Length)
	}
	return l, nil
}
