package codec

import (
	"bytes"
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"

	"github.com/jacksonlevine/pictosend/common/types"
)

func TestEncodeCopiesPooledBuffer(t *testing.T) {
	first, err := Encode(&types.ControlRecord{Tag: types.HistoryLength, Number: 7})
	require.NoError(t, err)
	second, err := Encode(&types.ControlRecord{Tag: types.Nothing})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(types.HistoryLength), 7, 0, 0, 0}, first)
	require.Equal(t, []byte{byte(types.Nothing), 0, 0, 0, 0}, second)
}

func TestDecodeTrailingBytes(t *testing.T) {
	var ctrl types.ControlRecord
	err := Decode([]byte{byte(types.Nothing), 0, 0, 0, 0, 1}, &ctrl)
	require.ErrorContains(t, err, "1 trailing bytes")
}

func TestLen(t *testing.T) {
	for _, n := range []uint32{0, 63, 64, 1 << 14, 1 << 20} {
		var buf bytes.Buffer
		_, err := EncodeLen(scale.NewEncoder(&buf), n)
		require.NoError(t, err)
		decoded, _, err := DecodeLen(scale.NewDecoder(&buf))
		require.NoError(t, err)
		require.Equal(t, n, decoded)
	}
}
