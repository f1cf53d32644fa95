package reassembly

import (
	"encoding/binary"
	"fmt"

	"github.com/jdziat/accelrt/pkg/core"
)

// Wire constants.
const (
	FrameSize   = 64
	PayloadSize = 48
	HeaderSize  = FrameSize - PayloadSize
	Magic       = uint16(0xA55A)

	// MaxChunks is the largest chunk count a start frame can declare.
	MaxChunks = 1<<16 - 1
)

// Flags are the packet markers of a frame.
type Flags uint16

const (
	FlagStart  Flags = 1 << iota // SOP
	FlagMiddle                   // MOP
	FlagEnd                      // EOP

	flagMask = FlagStart | FlagMiddle | FlagEnd
)

func (f Flags) Start() bool  { return f&FlagStart != 0 }
func (f Flags) Middle() bool { return f&FlagMiddle != 0 }
func (f Flags) End() bool    { return f&FlagEnd != 0 }

func (f Flags) String() string {
	switch f {
	case FlagStart:
		return "SOP"
	case FlagMiddle:
		return "MOP"
	case FlagEnd:
		return "EOP"
	case FlagStart | FlagEnd:
		return "SOP|EOP"
	default:
		return fmt.Sprintf("flags(%#x)", uint16(f))
	}
}

func (f Flags) valid() bool {
	switch f {
	case FlagStart, FlagMiddle, FlagEnd, FlagStart | FlagEnd:
		return true
	}
	return false
}

// Key identifies one logical report.
type Key uint64

// MakeKey packs the composite key.
func MakeKey(task core.TaskID, queue core.QueueID, typ core.ReportType) Key {
	return Key(uint64(task)<<32 | uint64(queue)<<16 | uint64(typ))
}

func (k Key) TaskID() core.TaskID { return core.TaskID(k >> 32) }
func (k Key) QueueID() core.QueueID { return core.QueueID(k >> 16) }
func (k Key) Type() core.ReportType { return core.ReportType(k) }
func (k Key) String() string { return fmt.Sprintf("%d/%d/%d", k.TaskID(), k.QueueID(), k.Type()) }

// Chunk is one decoded frame.
type Chunk struct {
	Flags   Flags
	TaskID  core.TaskID
	QueueID core.QueueID
	Type    core.ReportType
	// Count is the declared total on a start chunk and the sequence index otherwise.
	Count   uint16
	Payload []byte
}

// Key returns the chunk's composite key.
func (c *Chunk) Key() Key {
	return MakeKey(c.TaskID, c.QueueID, c.Type)
}

// Seq returns the chunk's position in its report.
func (c *Chunk) Seq() int {
	if c.Flags.Start() {
		return 0
	}
	return int(c.Count)
}

// MarshalBinary encodes the chunk as one frame.
func (c *Chunk) MarshalBinary() ([]byte, error) {
	if !c.Flags.valid() {
		return nil, fmt.Errorf("%w: chunk flags %s", core.ErrInvalidParameter, c.Flags)
	}
	if len(c.Payload) > PayloadSize {
		return nil, fmt.Errorf("%w: chunk payload of %d bytes", core.ErrInvalidParameter, len(c.Payload))
	}
	b := make([]byte, FrameSize)
	binary.LittleEndian.PutUint16(b[0:], Magic)
	binary.LittleEndian.PutUint16(b[2:], uint16(c.Flags))
	binary.LittleEndian.PutUint32(b[4:], uint32(c.TaskID))
	binary.LittleEndian.PutUint16(b[8:], uint16(c.QueueID))
	binary.LittleEndian.PutUint16(b[10:], uint16(c.Type))
	binary.LittleEndian.PutUint16(b[12:], c.Count)
	binary.LittleEndian.PutUint16(b[14:], uint16(len(c.Payload)))
	copy(b[HeaderSize:], c.Payload)
	return b, nil
}

// Decode parses one frame. The returned payload aliases b.
func Decode(b []byte) (Chunk, error) {
	var c Chunk
	if len(b) != FrameSize {
		return c, fmt.Errorf("%w: frame of %d bytes", core.ErrInvalidParameter, len(b))
	}
	if m := binary.LittleEndian.Uint16(b[0:]); m != Magic {
		return c, fmt.Errorf("%w: frame magic %#04x", core.ErrInvalidParameter, m)
	}
	c.Flags = Flags(binary.LittleEndian.Uint16(b[2:]))
	if c.Flags&^flagMask != 0 || !c.Flags.valid() {
		return c, fmt.Errorf("%w: frame flags %s", core.ErrInvalidParameter, c.Flags)
	}
	c.TaskID = core.TaskID(binary.LittleEndian.Uint32(b[4:]))
	c.QueueID = core.QueueID(binary.LittleEndian.Uint16(b[8:]))
	c.Type = core.ReportType(binary.LittleEndian.Uint16(b[10:]))
	c.Count = binary.LittleEndian.Uint16(b[12:])
	n := int(binary.LittleEndian.Uint16(b[14:]))
	if n > PayloadSize {
		return c, fmt.Errorf("%w: frame payload length %d", core.ErrReassemblyCorruption, n)
	}
	c.Payload = b[HeaderSize : HeaderSize+n]
	return c, nil
}

// Split cuts a report into chunks. An empty report is one empty SOP|EOP chunk.
func Split(key Key, data []byte) ([]Chunk, error) {
	total := (len(data) + PayloadSize - 1) / PayloadSize
	if total == 0 {
		total = 1
	}
	if total > MaxChunks {
		return nil, fmt.Errorf("%w: report of %d bytes needs %d chunks", core.ErrResourceExhausted, len(data), total)
	}
	chunks := make([]Chunk, total)
	for i := range chunks {
		lo := i * PayloadSize
		hi := min(lo+PayloadSize, len(data))
		c := Chunk{
			TaskID:  key.TaskID(),
			QueueID: key.QueueID(),
			Type:    key.Type(),
			Count:   uint16(i),
			Payload: data[lo:hi],
		}
		switch {
		case total == 1:
			c.Flags = FlagStart | FlagEnd
			c.Count = 1
		case i == 0:
			c.Flags = FlagStart
			c.Count = uint16(total)
		case i == total-1:
			c.Flags = FlagEnd
		default:
			c.Flags = FlagMiddle
		}
		chunks[i] = c
	}
	return chunks, nil
}

// Frames is Split followed by MarshalBinary on each chunk.
func Frames(key Key, data []byte) ([][]byte, error) {
	chunks, err := Split(key, data)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, len(chunks))
	for i := range chunks {
		if frames[i], err = chunks[i].MarshalBinary(); err != nil {
			return nil, err
		}
	}
	return frames, nil
}
