package types

import (
	"cmp"
	"encoding/binary"
	"math/big"
	"strconv"
	"time"

	"github.com/spacemeshos/go-scale"
)

// TimestampSize is the encoded size of a Timestamp.
const TimestampSize = 16

// Timestamp is an unsigned 128-bit count of milliseconds since the unix epoch.
type Timestamp struct {
	Hi, Lo uint64
}

// TimestampFromMillis returns a Timestamp for ms milliseconds since the epoch.
func TimestampFromMillis(ms uint64) Timestamp {
	return Timestamp{Lo: ms}
}

// TimestampFromTime converts t to a Timestamp. Times before the epoch map to zero.
func TimestampFromTime(t time.Time) Timestamp {
	ms := t.UnixMilli()
	if ms < 0 {
		return Timestamp{}
	}
	return Timestamp{Lo: uint64(ms)}
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or after other.
func (t Timestamp) Compare(other Timestamp) int {
	if c := cmp.Compare(t.Hi, other.Hi); c != 0 {
		return c
	}
	return cmp.Compare(t.Lo, other.Lo)
}

// Time converts the timestamp back to wall clock time.
// Values that do not fit into int64 milliseconds saturate.
func (t Timestamp) Time() time.Time {
	if t.Hi != 0 || t.Lo > 1<<63-1 {
		return time.UnixMilli(1<<63 - 1)
	}
	return time.UnixMilli(int64(t.Lo))
}

func (t Timestamp) String() string {
	if t.Hi == 0 {
		return strconv.FormatUint(t.Lo, 10)
	}
	v := new(big.Int).SetUint64(t.Hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(t.Lo))
	return v.String()
}

// EncodeScale implements scale codec interface.
// The value is written as 16 little-endian bytes, low half first.
func (t *Timestamp) EncodeScale(enc *scale.Encoder) (int, error) {
	var buf [TimestampSize]byte
	binary.LittleEndian.PutUint64(buf[:8], t.Lo)
	binary.LittleEndian.PutUint64(buf[8:], t.Hi)
	return scale.EncodeByteArray(enc, buf[:])
}

// DecodeScale implements scale codec interface.
func (t *Timestamp) DecodeScale(dec *scale.Decoder) (int, error) {
	var buf [TimestampSize]byte
	n, err := scale.DecodeByteArray(dec, buf[:])
	if err != nil {
		return n, err
	}
	t.Lo = binary.LittleEndian.Uint64(buf[:8])
	t.Hi = binary.LittleEndian.Uint64(buf[8:])
	return n, nil
}
