package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"
)

const (
	// UpdateRecordSize is the encoded size of an UpdateRecord.
	UpdateRecordSize = ProducerNameSize + PixelsSize + 1 + 1 + 4 + 1 + TimestampSize
	// ControlRecordSize is the encoded size of a ControlRecord.
	ControlRecordSize = 1 + 4
)

var (
	// ErrInvalidBool is returned when a boolean field holds a byte other than 0 or 1.
	ErrInvalidBool = errors.New("invalid bool encoding")
	// ErrUnknownTag is returned when a control record carries an unknown tag.
	ErrUnknownTag = errors.New("unknown control tag")
)

// UpdateRecord is a canvas snapshot contributed by a client. It is the unit
// of history and of broadcast.
type UpdateRecord struct {
	Producer ProducerName
	Pixels   Pixels

	// RequestHistory, RequestHistoryLength and ConfirmHistory are legacy control
	// flags sharing the data record layout.
	RequestHistory       bool
	RequestHistoryLength bool
	// HistoryLength is only meaningful in length responses.
	HistoryLength  int32
	ConfirmHistory bool

	// Timestamp is set by the producer and orders the history.
	Timestamp Timestamp
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *UpdateRecord) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("producer", r.Producer.String())
	encoder.AddString("timestamp", r.Timestamp.String())
	if r.RequestHistory {
		encoder.AddBool("request_history", true)
	}
	if r.RequestHistoryLength {
		encoder.AddBool("request_history_length", true)
	}
	if r.ConfirmHistory {
		encoder.AddBool("confirm_history", true)
	}
	return nil
}

// EncodeScale implements scale codec interface.
func (r *UpdateRecord) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := r.Producer.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := r.Pixels.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodeBool(enc, r.RequestHistory)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodeBool(enc, r.RequestHistoryLength)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodeInt32(enc, r.HistoryLength)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodeBool(enc, r.ConfirmHistory)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := r.Timestamp.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (r *UpdateRecord) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := r.Producer.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := r.Pixels.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := decodeBool(dec)
		if err != nil {
			return total, err
		}
		r.RequestHistory = field
		total += n
	}
	{
		field, n, err := decodeBool(dec)
		if err != nil {
			return total, err
		}
		r.RequestHistoryLength = field
		total += n
	}
	{
		field, n, err := decodeInt32(dec)
		if err != nil {
			return total, err
		}
		r.HistoryLength = field
		total += n
	}
	{
		field, n, err := decodeBool(dec)
		if err != nil {
			return total, err
		}
		r.ConfirmHistory = field
		total += n
	}
	{
		n, err := r.Timestamp.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ControlTag identifies the purpose of a control record.
type ControlTag uint8

const (
	RequestHistoryLength ControlTag = iota
	HistoryLength
	RequestHistory
	ConfirmReceivedHistory
	Nothing
)

func (t ControlTag) String() string {
	switch t {
	case RequestHistoryLength:
		return "request_history_length"
	case HistoryLength:
		return "history_length"
	case RequestHistory:
		return "request_history"
	case ConfirmReceivedHistory:
		return "confirm_received_history"
	case Nothing:
		return "nothing"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ControlRecord drives the history catch-up handshake.
type ControlRecord struct {
	Tag ControlTag
	// Number carries the byte size of the pending snapshot in HistoryLength responses.
	Number int32
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c *ControlRecord) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("tag", c.Tag.String())
	encoder.AddInt32("number", c.Number)
	return nil
}

// EncodeScale implements scale codec interface.
func (c *ControlRecord) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		// not compact, the tag is a full uint8 like other scale enums
		n, err := scale.EncodeByte(enc, byte(c.Tag))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := encodeInt32(enc, c.Number)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (c *ControlRecord) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		tag, n, err := scale.DecodeByte(dec)
		if err != nil {
			return total, err
		}
		if ControlTag(tag) > Nothing {
			return total, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
		}
		c.Tag = ControlTag(tag)
		total += n
	}
	{
		field, n, err := decodeInt32(dec)
		if err != nil {
			return total, err
		}
		c.Number = field
		total += n
	}
	return total, nil
}

func encodeBool(enc *scale.Encoder, v bool) (int, error) {
	var b byte
	if v {
		b = 1
	}
	return scale.EncodeByte(enc, b)
}

func decodeBool(dec *scale.Decoder) (bool, int, error) {
	b, n, err := scale.DecodeByte(dec)
	if err != nil {
		return false, n, err
	}
	switch b {
	case 0:
		return false, n, nil
	case 1:
		return true, n, nil
	default:
		return false, n, fmt.Errorf("%w: %d", ErrInvalidBool, b)
	}
}

// int32 fields are fixed width so that every record frame has the same size.
func encodeInt32(enc *scale.Encoder, v int32) (int, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return scale.EncodeByteArray(enc, buf[:])
}

func decodeInt32(dec *scale.Decoder) (int32, int, error) {
	var buf [4]byte
	n, err := scale.DecodeByteArray(dec, buf[:])
	if err != nil {
		return 0, n, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), n, nil
}
