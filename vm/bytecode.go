package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the fixed-width instruction tag. Operands follow the tag in
// the byte stream; positions are byte offsets.
type Opcode uint8

// Stack operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push constants
const (
	OpPushNull   Opcode = 0x10 // push the null reference
	OpPushTrue   Opcode = 0x11 // push true
	OpPushFalse  Opcode = 0x12 // push false
	OpPushInt    Opcode = 0x13 // push int64 (8 bytes)
	OpPushFloat  Opcode = 0x14 // push float64 (8 bytes)
	OpPushString Opcode = 0x15 // push string (u32 length + bytes)
	OpPushFunc   Opcode = 0x16 // push function (u32 addr, u8 nargs, u8 variadic)
)

// Variable operations
const (
	OpLoadGlobal  Opcode = 0x20 // push global (u16 index)
	OpStoreGlobal Opcode = 0x21 // pop into global (u16 index)
	OpLoadLocal   Opcode = 0x22 // push frame local (u8 index)
	OpStoreLocal  Opcode = 0x23 // pop into frame local (u8 index)
)

// Arithmetic and logic
const (
	OpAdd Opcode = 0x30
	OpSub Opcode = 0x31
	OpMul Opcode = 0x32
	OpDiv Opcode = 0x33
	OpMod Opcode = 0x34
	OpNeg Opcode = 0x35
	OpNot Opcode = 0x36
	OpEq  Opcode = 0x37
	OpNe  Opcode = 0x38
	OpLt  Opcode = 0x39
	OpGt  Opcode = 0x3A
	OpLe  Opcode = 0x3B
	OpGe  Opcode = 0x3C
)

// Control flow
const (
	OpJump        Opcode = 0x40 // jump to absolute position (u32)
	OpJumpIfFalse Opcode = 0x41 // pop, jump if falsy (u32)
	OpCall        Opcode = 0x42 // pop callee, invoke with u8 args
	OpReturn      Opcode = 0x43 // end the current function body
	OpTryBegin    Opcode = 0x44 // install handler (u32 catch position)
	OpTryEnd      Opcode = 0x45 // remove the innermost handler
	OpThrow       Opcode = 0x46 // pop a value and raise it
)

// Miscellaneous
const (
	OpPrint Opcode = 0x50 // pop and print u8 values
	OpHalt  Opcode = 0xFF // stop execution
)

var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpPop: "pop", OpDup: "dup",
	OpPushNull: "push_null", OpPushTrue: "push_true", OpPushFalse: "push_false",
	OpPushInt: "push_int", OpPushFloat: "push_float", OpPushString: "push_string",
	OpPushFunc: "push_func",
	OpLoadGlobal: "load_global", OpStoreGlobal: "store_global",
	OpLoadLocal: "load_local", OpStoreLocal: "store_local",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpNeg: "neg", OpNot: "not",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpGt: "gt", OpLe: "le", OpGe: "ge",
	OpJump: "jump", OpJumpIfFalse: "jump_if_false",
	OpCall: "call", OpReturn: "return",
	OpTryBegin: "try_begin", OpTryEnd: "try_end", OpThrow: "throw",
	OpPrint: "print", OpHalt: "halt",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op_%02x", uint8(op))
}

// ---------------------------------------------------------------------------
// Stream: seekable instruction stream
// ---------------------------------------------------------------------------

// Stream reads a bytecode buffer. Positions are byte offsets.
type Stream struct {
	buf []byte
	pos int
}

// NewStream creates a stream over the given bytecode.
func NewStream(buf []byte) *Stream {
	return &Stream{buf: buf}
}

// Position returns the current byte offset.
func (s *Stream) Position() uint64 {
	return uint64(s.pos)
}

// Size returns the total length of the stream.
func (s *Stream) Size() uint64 {
	return uint64(len(s.buf))
}

// Seek moves the read position to an absolute byte offset.
func (s *Stream) Seek(pos uint64) {
	s.pos = int(pos)
}

// ReadOpcode reads the next instruction tag. At the end of the stream it
// returns OpHalt.
func (s *Stream) ReadOpcode() Opcode {
	if s.pos >= len(s.buf) {
		return OpHalt
	}
	op := Opcode(s.buf[s.pos])
	s.pos++
	return op
}

// ReadU8 reads one unsigned byte.
func (s *Stream) ReadU8() uint8 {
	if s.pos >= len(s.buf) {
		return 0
	}
	v := s.buf[s.pos]
	s.pos++
	return v
}

// ReadU16 reads a little-endian uint16.
func (s *Stream) ReadU16() uint16 {
	if s.pos+2 > len(s.buf) {
		s.pos = len(s.buf)
		return 0
	}
	v := binary.LittleEndian.Uint16(s.buf[s.pos:])
	s.pos += 2
	return v
}

// ReadU32 reads a little-endian uint32.
func (s *Stream) ReadU32() uint32 {
	if s.pos+4 > len(s.buf) {
		s.pos = len(s.buf)
		return 0
	}
	v := binary.LittleEndian.Uint32(s.buf[s.pos:])
	s.pos += 4
	return v
}

// ReadI64 reads a little-endian int64.
func (s *Stream) ReadI64() int64 {
	if s.pos+8 > len(s.buf) {
		s.pos = len(s.buf)
		return 0
	}
	v := binary.LittleEndian.Uint64(s.buf[s.pos:])
	s.pos += 8
	return int64(v)
}

// ReadF64 reads a little-endian float64.
func (s *Stream) ReadF64() float64 {
	return math.Float64frombits(uint64(s.ReadI64()))
}

// ReadString reads a u32-prefixed string.
func (s *Stream) ReadString() string {
	n := int(s.ReadU32())
	if s.pos+n > len(s.buf) {
		n = len(s.buf) - s.pos
	}
	v := string(s.buf[s.pos : s.pos+n])
	s.pos += n
	return v
}

// ---------------------------------------------------------------------------
// Builder: bytecode assembly
// ---------------------------------------------------------------------------

// Builder assembles a bytecode buffer.
type Builder struct {
	buf []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Pos returns the offset the next emit will write at.
func (b *Builder) Pos() uint64 {
	return uint64(len(b.buf))
}

// Bytes returns the assembled bytecode.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Emit appends an instruction tag.
func (b *Builder) Emit(op Opcode) {
	b.buf = append(b.buf, byte(op))
}

// EmitU8 appends one unsigned byte.
func (b *Builder) EmitU8(v uint8) {
	b.buf = append(b.buf, v)
}

// EmitU16 appends a little-endian uint16.
func (b *Builder) EmitU16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

// EmitU32 appends a little-endian uint32.
func (b *Builder) EmitU32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

// EmitI64 appends a little-endian int64.
func (b *Builder) EmitI64(v int64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(v))
}

// EmitF64 appends a little-endian float64.
func (b *Builder) EmitF64(v float64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, math.Float64bits(v))
}

// EmitString appends a u32-prefixed string.
func (b *Builder) EmitString(v string) {
	b.EmitU32(uint32(len(v)))
	b.buf = append(b.buf, v...)
}

// PatchU32 overwrites a previously emitted uint32 at the given offset.
func (b *Builder) PatchU32(at uint64, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[at:], v)
}
