package reassembly

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/accelrt/pkg/core"
)

func TestMakeKey(t *testing.T) {
	k := MakeKey(0xdeadbeef, 0x1234, 0x0042)
	assert.Equal(t, Key(0xdeadbeef_1234_0042), k)
	assert.Equal(t, core.TaskID(0xdeadbeef), k.TaskID())
	assert.Equal(t, core.QueueID(0x1234), k.QueueID())
	assert.Equal(t, core.ReportType(0x42), k.Type())
}

func TestChunk_WireFieldsSurvive(t *testing.T) {
	c := Chunk{
		Flags:   FlagMiddle,
		TaskID:  77,
		QueueID: 3,
		Type:    5,
		Count:   2,
		Payload: payload(PayloadSize),
	}
	b, err := c.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, FrameSize)
	assert.Equal(t, Magic, binary.LittleEndian.Uint16(b))

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, c.Key(), got.Key())
	assert.Equal(t, c.Flags, got.Flags)
	assert.Equal(t, c.Count, got.Count)
	assert.Equal(t, c.Payload, got.Payload)
}

func TestDecode_Rejects(t *testing.T) {
	good, err := (&Chunk{Flags: FlagStart, Count: 2, Payload: payload(PayloadSize)}).MarshalBinary()
	require.NoError(t, err)

	_, err = Decode(good[:10])
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	bad := append([]byte(nil), good...)
	bad[0] = 0
	_, err = Decode(bad)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	bad = append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(bad[2:], uint16(FlagMiddle|FlagEnd))
	_, err = Decode(bad)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	bad = append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(bad[14:], PayloadSize+1)
	_, err = Decode(bad)
	assert.ErrorIs(t, err, core.ErrReassemblyCorruption)
}

func TestSplit(t *testing.T) {
	key := MakeKey(1, 2, 3)
	chunks, err := Split(key, payload(2*PayloadSize+1))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, FlagStart, chunks[0].Flags)
	assert.Equal(t, uint16(3), chunks[0].Count)
	assert.Equal(t, FlagMiddle, chunks[1].Flags)
	assert.Equal(t, uint16(1), chunks[1].Count)
	assert.Equal(t, FlagEnd, chunks[2].Flags)
	assert.Equal(t, uint16(2), chunks[2].Count)
	assert.Len(t, chunks[2].Payload, 1)
	for _, c := range chunks {
		assert.Equal(t, key, c.Key())
	}

	_, err = Split(key, make([]byte, (MaxChunks+1)*PayloadSize))
	assert.ErrorIs(t, err, core.ErrResourceExhausted)
}

func TestBuffer_RefusesOverflow(t *testing.T) {
	b := NewBuffer(8)
	n, err := b.WriteAt([]byte("abcd"), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = b.WriteAt([]byte("xyz"), 6)
	assert.ErrorIs(t, err, core.ErrReassemblyCorruption)
	_, err = b.WriteAt([]byte("x"), -1)
	assert.ErrorIs(t, err, core.ErrReassemblyCorruption)

	assert.Equal(t, []byte{0, 0, 0, 0, 'a', 'b', 'c', 'd'}, b.Bytes(8))
	assert.Equal(t, 8, b.Len())
	assert.Equal(t, 8, b.Cap())
}
