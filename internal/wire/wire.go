// Package wire implements the trace file record types and the internal
// network packet codec of spec.md §6: a little-endian binary protocol
// between the (out-of-scope) instrumentation front-end / trace replayer
// and the simulation core, and the sender/receiver/type/time/length
// packet the bus forwards. Grounded on original_source's trace record
// layout (magic, per-record payloads) referenced from spec.md §6 directly,
// since no single original_source file was retrieved for the trace reader
// itself (spec.md treats it as "a byte protocol" external collaborator).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/sniperarch/memsim/internal/bus"
	"github.com/sniperarch/memsim/internal/simtime"
)

// Magic identifies a trace file header.
const Magic uint32 = 0x5454FF00

// HeaderOptions bitfield.
const (
	OptZlib    uint32 = 1 << 0
	Opt32Arch  uint32 = 1 << 1
)

// Header is the trace file's fixed preamble.
type Header struct {
	Magic      uint32
	HeaderSize uint32
	Options    uint32
}

// RecordType enumerates the trace record codes of spec.md §6's table.
type RecordType byte

const (
	RecordSimpleInstruction   RecordType = 0
	RecordExtendedInstruction RecordType = 1
	RecordICachePageUpload    RecordType = 2
	RecordOutput              RecordType = 3
	RecordSyscallRequest      RecordType = 4
	RecordNewThreadRequest    RecordType = 5
	RecordJoinRequest         RecordType = 6
	RecordEnd                 RecordType = 7

	RecordSyscallResponse      RecordType = 0x80
	RecordNewThreadResponse    RecordType = 0x81
	RecordJoinResponse         RecordType = 0x82
	RecordMemoryRequest        RecordType = 0x83
	RecordMemoryResponse       RecordType = 0x84
)

// ICachePageBytes is the page granularity spec.md §6 specifies for an
// I-cache page upload record.
const ICachePageBytes = 4096

// SimpleInstruction is record type 0: address is inferred by the reader
// from the previous record (last_addr + last_size), so it is not stored.
type SimpleInstruction struct {
	Size         uint8 // 4-bit field widened to a byte for in-memory use
	NumAddresses uint8
	IsBranch     bool
	Taken        bool
	Addresses    []uint64
}

// ExtendedInstruction is record type 1: a self-contained instruction
// record carrying its own 64-bit address.
type ExtendedInstruction struct {
	Addr         uint64
	Size         uint8
	NumAddresses uint8
	IsBranch     bool
	Taken        bool
	IsPredicate  bool
	Executed     bool
	Addresses    []uint64
}

// ICachePageUpload is record type 2.
type ICachePageUpload struct {
	BaseAddr uint64
	Code     [ICachePageBytes]byte
}

// Output is record type 3.
type Output struct {
	FD    uint8
	Bytes []byte
}

// SyscallRequest is record type 4.
type SyscallRequest struct {
	SyscallNumber uint16
	Args          []byte
}

// JoinRequest is record type 6.
type JoinRequest struct {
	ThreadID uint32
}

// MemoryRequest is the round-trip request half of spec.md §6's "Round-trip
// memory access". RequestID lets the recorder's (possibly reordered) reply
// be matched back to this request.
type MemoryRequest struct {
	RequestID uuid.UUID
	Addr      uint64
	Size      uint32
	LockType  uint8
	Op        uint8
}

// MemoryResponse is the reply half; Data is present only for reads.
type MemoryResponse struct {
	RequestID uuid.UUID
	Addr      uint64
	Op        uint8
	Data      []byte
}

// EncodeHeader writes a trace file header.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.Options)
	return buf
}

// DecodeHeader reads and validates a trace file header's magic.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 12 {
		return Header{}, fmt.Errorf("wire: header too short: %d bytes", len(data))
	}
	h := Header{
		Magic:      binary.LittleEndian.Uint32(data[0:4]),
		HeaderSize: binary.LittleEndian.Uint32(data[4:8]),
		Options:    binary.LittleEndian.Uint32(data[8:12]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("wire: bad magic %#x, want %#x", h.Magic, Magic)
	}
	return h, nil
}

// EncodeMemoryRequest serializes a MemoryRequest.
func EncodeMemoryRequest(r MemoryRequest) []byte {
	var buf bytes.Buffer
	idBytes, _ := r.RequestID.MarshalBinary()
	buf.Write(idBytes)
	var scratch [13]byte
	binary.LittleEndian.PutUint64(scratch[0:8], r.Addr)
	binary.LittleEndian.PutUint32(scratch[8:12], r.Size)
	scratch[12] = r.LockType<<4 | r.Op
	buf.Write(scratch[:])
	return buf.Bytes()
}

// DecodeMemoryRequest deserializes a MemoryRequest; it is the exact
// inverse of EncodeMemoryRequest, per spec.md §8's serialize/deserialize
// round-trip law.
func DecodeMemoryRequest(data []byte) (MemoryRequest, error) {
	if len(data) < 16+13 {
		return MemoryRequest{}, fmt.Errorf("wire: memory request too short: %d bytes", len(data))
	}
	var r MemoryRequest
	if err := r.RequestID.UnmarshalBinary(data[0:16]); err != nil {
		return MemoryRequest{}, err
	}
	rest := data[16:]
	r.Addr = binary.LittleEndian.Uint64(rest[0:8])
	r.Size = binary.LittleEndian.Uint32(rest[8:12])
	r.LockType = rest[12] >> 4
	r.Op = rest[12] & 0x0f
	return r, nil
}

// PacketWire is the on-wire form of bus.Packet described in spec.md §6's
// "Network packet wire fields", carried as its own struct since bus.Packet
// itself holds a live simtime.Time rather than a serialized one.
type PacketWire struct {
	Sender   int32
	Receiver int32
	Type     uint16
	Time     uint64 // femtoseconds
	Length   uint32
	Payload  []byte
}

// EncodePacket serializes a bus.Packet to its wire form.
func EncodePacket(p bus.Packet) []byte {
	header := make([]byte, 4+4+2+8+4)
	binary.LittleEndian.PutUint32(header[0:4], uint32(int32(p.Sender)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(int32(p.Receiver)))
	binary.LittleEndian.PutUint16(header[8:10], uint16(p.Type))
	binary.LittleEndian.PutUint64(header[10:18], uint64(p.Time))
	binary.LittleEndian.PutUint32(header[18:22], p.Length)
	return append(header, p.Payload...)
}

// DecodePacket is the exact inverse of EncodePacket.
func DecodePacket(data []byte) (bus.Packet, error) {
	if len(data) < 22 {
		return bus.Packet{}, fmt.Errorf("wire: packet too short: %d bytes", len(data))
	}
	p := bus.Packet{
		Sender:   int(int32(binary.LittleEndian.Uint32(data[0:4]))),
		Receiver: int(int32(binary.LittleEndian.Uint32(data[4:8]))),
		Type:     bus.PacketType(binary.LittleEndian.Uint16(data[8:10])),
		Time:     simtime.Time(binary.LittleEndian.Uint64(data[10:18])),
		Length:   binary.LittleEndian.Uint32(data[18:22]),
	}
	if len(data) > 22 {
		p.Payload = append([]byte(nil), data[22:]...)
	}
	return p, nil
}
