// Package lbc implements the LBC container codec: the little-endian
// binary format that carries a compiled Luma program's extension table,
// constant pool, and code section between the compiler and the VM.
package lbc

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSize = 16

	// MaxExtensions and MaxConstants bound the two 8-bit-indexed tables
	// (N and K are each a single header byte).
	MaxExtensions = 255
	MaxConstants  = 255

	// MaxCodeLen bounds the code section; PC is a 16-bit offset into it.
	MaxCodeLen = 65535

	// FlagSignedRelativeJumps is header flags bit 0: when set, relative
	// jumps use the full 16-bit PC instead of only its low byte.
	FlagSignedRelativeJumps byte = 1 << 0

	formatVersion byte = 1
)

var magic = [4]byte{'L', 'V', 'M', '1'}

// ExtensionEntry is one row of the container's extension table: the
// numeric id a `require` name resolved to at compile time. The 2
// reserved bytes are always written as zero and ignored on decode.
type ExtensionEntry struct {
	ID byte
}

// Container is the fully decoded form of an LBC file.
type Container struct {
	Version   byte
	Flags     byte
	Entry     uint16
	Extension []ExtensionEntry
	Constants []int32
	Code      []byte
}

// SignedRelativeJumps reports whether the container's flags select the
// full-16-bit relative jump semantics instead of the default page-local
// behavior.
func (c *Container) SignedRelativeJumps() bool {
	return c.Flags&FlagSignedRelativeJumps != 0
}

// Encode serializes the container to its on-disk LBC byte representation.
func Encode(c *Container) ([]byte, error) {
	if len(c.Extension) > MaxExtensions {
		return nil, fmt.Errorf("lbc: too many extensions (%d > %d)", len(c.Extension), MaxExtensions)
	}
	if len(c.Constants) > MaxConstants {
		return nil, fmt.Errorf("lbc: too many constants (%d > %d)", len(c.Constants), MaxConstants)
	}
	if len(c.Code) > MaxCodeLen {
		return nil, fmt.Errorf("lbc: code section too long (%d > %d)", len(c.Code), MaxCodeLen)
	}

	extTableSize := len(c.Extension) * 3
	constPoolSize := len(c.Constants) * 4
	codeOffset := headerSize + extTableSize + constPoolSize
	if codeOffset > 0xFFFF {
		return nil, fmt.Errorf("lbc: code offset %d overflows 16 bits", codeOffset)
	}

	out := make([]byte, 0, codeOffset+len(c.Code))

	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	header[4] = formatVersion
	header[5] = c.Flags
	header[6] = byte(len(c.Extension))
	header[7] = byte(len(c.Constants))
	binary.LittleEndian.PutUint16(header[8:10], uint16(codeOffset))
	binary.LittleEndian.PutUint16(header[10:12], c.Entry)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(c.Code)))
	out = append(out, header...)

	for _, ext := range c.Extension {
		out = append(out, ext.ID, 0, 0)
	}

	for _, cst := range c.Constants {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(cst))
		out = append(out, b[:]...)
	}

	out = append(out, c.Code...)
	return out, nil
}

// Decode parses raw LBC bytes into a Container, rejecting malformed
// headers and section bounds.
func Decode(data []byte) (*Container, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("lbc: file too short for header (%d bytes)", len(data))
	}
	if [4]byte(data[0:4]) != magic {
		return nil, fmt.Errorf("lbc: bad magic %q", data[0:4])
	}

	version := data[4]
	if version != formatVersion {
		return nil, fmt.Errorf("lbc: unsupported format version %d", version)
	}

	flags := data[5]
	extCount := int(data[6])
	constCount := int(data[7])
	codeOffset := int(binary.LittleEndian.Uint16(data[8:10]))
	entry := binary.LittleEndian.Uint16(data[10:12])
	codeLen := int(binary.LittleEndian.Uint32(data[12:16]))

	wantOffset := headerSize + extCount*3 + constCount*4
	if codeOffset != wantOffset {
		return nil, fmt.Errorf("lbc: code offset %d inconsistent with extension/constant counts (want %d)", codeOffset, wantOffset)
	}
	if codeOffset+codeLen > len(data) {
		return nil, fmt.Errorf("lbc: code section (offset %d, len %d) exceeds file size %d", codeOffset, codeLen, len(data))
	}
	if codeLen > MaxCodeLen {
		return nil, fmt.Errorf("lbc: code length %d exceeds max %d", codeLen, MaxCodeLen)
	}
	if int(entry) > codeLen {
		return nil, fmt.Errorf("lbc: entry point %d beyond code length %d", entry, codeLen)
	}

	c := &Container{
		Version: version,
		Flags:   flags,
		Entry:   entry,
	}

	pos := headerSize
	c.Extension = make([]ExtensionEntry, extCount)
	for i := 0; i < extCount; i++ {
		c.Extension[i] = ExtensionEntry{ID: data[pos]}
		pos += 3
	}

	c.Constants = make([]int32, constCount)
	for i := 0; i < constCount; i++ {
		c.Constants[i] = int32(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
	}

	c.Code = make([]byte, codeLen)
	copy(c.Code, data[pos:pos+codeLen])

	return c, nil
}
