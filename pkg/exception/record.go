package exception

import (
	"encoding/binary"
	"fmt"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/security"
)

// Wire constants.
const (
	RecordMagic = uint32(0x52435845)
	HeaderSize  = 40
)

// ExpandType is the payload discriminant on the wire.
type ExpandType uint32

const (
	ExpandInvalid ExpandType = iota
	ExpandCore
	ExpandFused
)

func (t ExpandType) String() string {
	switch t {
	case ExpandInvalid:
		return "invalid"
	case ExpandCore:
		return "core"
	case ExpandFused:
		return "fused"
	default:
		return fmt.Sprintf("expand(%d)", uint32(t))
	}
}

// Payload is the tagged part of a record.
type Payload interface {
	Expand() ExpandType
	isPayload()
}

// CoreInfo describes a fault raised by an ordinary kernel.
type CoreInfo struct {
	Binary core.BinaryRef `json:"binary"`
}

// FusedInfo describes a fault raised inside a fused operation.
type FusedInfo struct {
	ContextID uint16   `json:"context_id"`
	Core      CoreInfo `json:"core"`
}

// InvalidInfo marks a record with no usable payload.
type InvalidInfo struct{}

func (CoreInfo) Expand() ExpandType    { return ExpandCore }
func (FusedInfo) Expand() ExpandType   { return ExpandFused }
func (InvalidInfo) Expand() ExpandType { return ExpandInvalid }

func (CoreInfo) isPayload()    {}
func (FusedInfo) isPayload()   {}
func (InvalidInfo) isPayload() {}

// Record is a decoded device exception.
type Record struct {
	// DeviceIndex is the device's internal index as sent on the wire.
	DeviceIndex uint32 `json:"device_index"`
	// DeviceID is the user-visible id; it equals DeviceIndex when translation failed.
	DeviceID core.DeviceID `json:"device_id"`
	QueueID  core.QueueID  `json:"queue_id"`
	TaskID   core.TaskID   `json:"task_id"`
	ThreadID core.ThreadID `json:"thread_id"`
	Code     uint32        `json:"code"`
	Payload  Payload       `json:"payload"`
}

// Binary returns the binary named by the payload, looking through fused info.
func (r *Record) Binary() (core.BinaryRef, bool) {
	switch p := r.Payload.(type) {
	case CoreInfo:
		return p.Binary, p.Binary.Valid()
	case FusedInfo:
		return p.Core.Binary, p.Core.Binary.Valid()
	default:
		return core.BinaryRef{}, false
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("device=%d queue=%d task=%d thread=%d code=%#x payload=%s",
		r.DeviceID, r.QueueID, r.TaskID, r.ThreadID, r.Code, r.expand())
}

func (r *Record) expand() ExpandType {
	if r.Payload == nil {
		return ExpandInvalid
	}
	return r.Payload.Expand()
}

// Encode renders r in wire form.
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", core.ErrInvalidParameter)
	}
	var (
		ref       core.BinaryRef
		contextID uint16
	)
	switch p := r.Payload.(type) {
	case CoreInfo:
		ref = p.Binary
	case FusedInfo:
		ref = p.Core.Binary
		contextID = p.ContextID
	}
	if len(ref.Symbol) > security.MaxSymbolLength {
		return nil, fmt.Errorf("%w: symbol longer than %d", core.ErrInvalidParameter, security.MaxSymbolLength)
	}

	b := make([]byte, HeaderSize+len(ref.Symbol))
	binary.LittleEndian.PutUint32(b[0:], RecordMagic)
	binary.LittleEndian.PutUint32(b[4:], r.DeviceIndex)
	binary.LittleEndian.PutUint16(b[8:], uint16(r.QueueID))
	binary.LittleEndian.PutUint32(b[12:], uint32(r.TaskID))
	binary.LittleEndian.PutUint32(b[16:], uint32(r.ThreadID))
	binary.LittleEndian.PutUint32(b[20:], r.Code)
	binary.LittleEndian.PutUint32(b[24:], uint32(r.expand()))
	binary.LittleEndian.PutUint64(b[28:], uint64(ref.Handle))
	binary.LittleEndian.PutUint16(b[36:], contextID)
	binary.LittleEndian.PutUint16(b[38:], uint16(len(ref.Symbol)))
	copy(b[HeaderSize:], ref.Symbol)
	return b, nil
}

// Decode parses a wire record. DeviceID is set to the raw index; the
// Registry translates it.
func Decode(b []byte) (*Record, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: exception record of %d bytes", core.ErrInvalidParameter, len(b))
	}
	if m := binary.LittleEndian.Uint32(b[0:]); m != RecordMagic {
		return nil, fmt.Errorf("%w: exception record magic %#08x", core.ErrInvalidParameter, m)
	}
	symLen := int(binary.LittleEndian.Uint16(b[38:]))
	if len(b) != HeaderSize+symLen {
		return nil, fmt.Errorf("%w: exception record symbol length %d does not match %d trailing bytes",
			core.ErrInvalidParameter, symLen, len(b)-HeaderSize)
	}

	r := &Record{
		DeviceIndex: binary.LittleEndian.Uint32(b[4:]),
		QueueID:     core.QueueID(binary.LittleEndian.Uint16(b[8:])),
		TaskID:      core.TaskID(binary.LittleEndian.Uint32(b[12:])),
		ThreadID:    core.ThreadID(binary.LittleEndian.Uint32(b[16:])),
		Code:        binary.LittleEndian.Uint32(b[20:]),
	}
	r.DeviceID = core.DeviceID(r.DeviceIndex)

	ref := core.BinaryRef{
		Handle: core.BinaryHandle(binary.LittleEndian.Uint64(b[28:])),
		Symbol: security.SanitizeSymbol(string(b[HeaderSize:])),
	}
	switch t := ExpandType(binary.LittleEndian.Uint32(b[24:])); t {
	case ExpandCore:
		r.Payload = CoreInfo{Binary: ref}
	case ExpandFused:
		r.Payload = FusedInfo{
			ContextID: binary.LittleEndian.Uint16(b[36:]),
			Core:      CoreInfo{Binary: ref},
		}
	case ExpandInvalid:
		r.Payload = InvalidInfo{}
	default:
		return nil, fmt.Errorf("%w: exception payload type %s", core.ErrInvalidParameter, t)
	}
	return r, nil
}
