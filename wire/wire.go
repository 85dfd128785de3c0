// Package wire defines the frames exchanged between the board server and its clients.
//
// Every frame starts with a single kind byte followed by a fixed size body:
//
//	control: kind(1) | tag(1) | number(4)
//	data:    kind(1) | UpdateRecord(40047)
//
// The history snapshot sent in response to a RequestHistory control record is
// not framed. Its exact size is announced by the preceding HistoryLength record.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/spacemeshos/go-scale"

	"github.com/jacksonlevine/pictosend/codec"
	"github.com/jacksonlevine/pictosend/common/types"
)

// Kind discriminates frames on the connection.
type Kind byte

const (
	KindControl Kind = iota + 1
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

const (
	// ControlFrameSize is the total size of a control frame.
	ControlFrameSize = 1 + types.ControlRecordSize
	// DataFrameSize is the total size of a data frame.
	DataFrameSize = 1 + types.UpdateRecordSize

	// MaxHistoryRecords bounds the number of records accepted in a snapshot.
	MaxHistoryRecords = 1 << 12
)

var (
	// ErrMalformed is wrapped by every error caused by undecodable frame contents.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownKind is returned when a frame starts with an unknown kind byte.
	ErrUnknownKind = fmt.Errorf("%w: unknown kind", ErrMalformed)
)

// Frame is a decoded frame. Exactly one of Control or Data is set, according to Kind.
type Frame struct {
	Kind    Kind
	Control *types.ControlRecord
	Data    *types.UpdateRecord
	// Raw is the full encoded frame, including the kind byte.
	Raw []byte
}

// BodySize returns the body size for kind, or an error if kind is unknown.
func BodySize(kind Kind) (int, error) {
	switch kind {
	case KindControl:
		return types.ControlRecordSize, nil
	case KindData:
		return types.UpdateRecordSize, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, byte(kind))
	}
}

// DecodeBody decodes a frame body that was read for kind.
// raw must hold the kind byte followed by the body and is retained by the frame.
func DecodeBody(kind Kind, raw []byte) (*Frame, error) {
	f := &Frame{Kind: kind, Raw: raw}
	switch kind {
	case KindControl:
		var ctrl types.ControlRecord
		if err := codec.Decode(raw[1:], &ctrl); err != nil {
			return nil, fmt.Errorf("%w: control: %w", ErrMalformed, err)
		}
		f.Control = &ctrl
	case KindData:
		var rec types.UpdateRecord
		if err := codec.Decode(raw[1:], &rec); err != nil {
			return nil, fmt.Errorf("%w: data: %w", ErrMalformed, err)
		}
		f.Data = &rec
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, byte(kind))
	}
	return f, nil
}

// ReadFrame reads and decodes a single frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, err
	}
	size, err := BodySize(Kind(kind[0]))
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 1+size)
	raw[0] = kind[0]
	if _, err := io.ReadFull(r, raw[1:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return DecodeBody(Kind(kind[0]), raw)
}

func encodeFrame(kind Kind, value codec.Encodable, size int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(1 + size)
	buf.WriteByte(byte(kind))
	if _, err := codec.EncodeTo(&buf, value); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", kind, err)
	}
	return buf.Bytes(), nil
}

// EncodeControl encodes a control frame.
func EncodeControl(ctrl *types.ControlRecord) ([]byte, error) {
	return encodeFrame(KindControl, ctrl, types.ControlRecordSize)
}

// EncodeData encodes a data frame.
func EncodeData(rec *types.UpdateRecord) ([]byte, error) {
	return encodeFrame(KindData, rec, types.UpdateRecordSize)
}

// WriteControl encodes ctrl and writes it to w.
func WriteControl(w io.Writer, ctrl *types.ControlRecord) error {
	buf, err := EncodeControl(ctrl)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// WriteData encodes rec and writes it to w.
func WriteData(w io.Writer, rec *types.UpdateRecord) error {
	buf, err := EncodeData(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// EncodeHistory encodes records in order as a compact count followed by each record.
func EncodeHistory(records []*types.UpdateRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(5 + len(records)*types.UpdateRecordSize)
	if _, err := EncodeHistoryTo(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeHistoryTo is EncodeHistory writing into w.
func EncodeHistoryTo(w io.Writer, records []*types.UpdateRecord) (total int, err error) {
	enc := scale.NewEncoder(w)
	{
		n, err := codec.EncodeLen(enc, uint32(len(records)))
		if err != nil {
			return total, fmt.Errorf("encode history length: %w", err)
		}
		total += n
	}
	for i, rec := range records {
		n, err := rec.EncodeScale(enc)
		if err != nil {
			return total, fmt.Errorf("encode history record %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}

// DecodeHistory decodes a snapshot produced by EncodeHistory. Trailing bytes are an error.
func DecodeHistory(buf []byte) ([]*types.UpdateRecord, error) {
	r := bytes.NewReader(buf)
	records, n, err := DecodeHistoryFrom(r)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("decode history: %d trailing bytes", len(buf)-n)
	}
	return records, nil
}

// DecodeHistoryFrom reads a snapshot from r and returns the records and the number of bytes consumed.
func DecodeHistoryFrom(r io.Reader) ([]*types.UpdateRecord, int, error) {
	dec := scale.NewDecoder(r)
	count, total, err := codec.DecodeLen(dec)
	if err != nil {
		return nil, total, fmt.Errorf("decode history length: %w", err)
	}
	if count > MaxHistoryRecords {
		return nil, total, fmt.Errorf("decode history: %d records exceeds limit %d", count, MaxHistoryRecords)
	}
	records := make([]*types.UpdateRecord, 0, count)
	for i := range count {
		var rec types.UpdateRecord
		n, err := rec.DecodeScale(dec)
		total += n
		if err != nil {
			return nil, total, fmt.Errorf("decode history record %d: %w", i, err)
		}
		records = append(records, &rec)
	}
	return records, total, nil
}

// HistoryLengthRecord returns the control record announcing a snapshot of size bytes.
func HistoryLengthRecord(size int) (*types.ControlRecord, error) {
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("history snapshot of %d bytes does not fit the length field", size)
	}
	return &types.ControlRecord{Tag: types.HistoryLength, Number: int32(size)}, nil
}
