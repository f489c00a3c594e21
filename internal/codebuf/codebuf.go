// Package codebuf implements the JIT code buffer: a page-aligned
// anonymous mmap region that translated code is appended to and
// patched in place, with W^X page-protection transitions for hardened
// deployments.
package codebuf

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultSize is the default code buffer capacity.
const DefaultSize = 16 * 1024 * 1024

// CodeBuffer is a growable-by-replacement mmap region holding emitted
// host machine code. It is not safe for concurrent writers; callers
// serialize appends under their own translate lock.
type CodeBuffer struct {
	mem    []byte
	offset int
}

// New mmaps a fresh, page-rounded, read-write buffer of at least size
// bytes.
func New(size int) (*CodeBuffer, error) {
	if size <= 0 {
		size = DefaultSize
	}
	pageSize := unix.Getpagesize()
	rounded := (size + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "codebuf: mmap")
	}
	return &CodeBuffer{mem: mem}, nil
}

// WithDefaultSize mmaps a buffer of DefaultSize bytes.
func WithDefaultSize() (*CodeBuffer, error) { return New(DefaultSize) }

func (b *CodeBuffer) Offset() int    { return b.offset }
func (b *CodeBuffer) Capacity() int  { return len(b.mem) }
func (b *CodeBuffer) Remaining() int { return len(b.mem) - b.offset }

func (b *CodeBuffer) SetOffset(off int) { b.offset = off }

func (b *CodeBuffer) BasePtr() []byte { return b.mem }

// PtrAt returns the slice of code starting at the given offset,
// running to the end of the buffer.
func (b *CodeBuffer) PtrAt(offset int) []byte { return b.mem[offset:] }

func (b *CodeBuffer) checkRoom(n int) {
	if b.offset+n > len(b.mem) {
		panic("code buffer overflow")
	}
}

func (b *CodeBuffer) EmitU8(v uint8) {
	b.checkRoom(1)
	b.mem[b.offset] = v
	b.offset++
}

func (b *CodeBuffer) EmitBytes(bs []byte) {
	b.checkRoom(len(bs))
	copy(b.mem[b.offset:], bs)
	b.offset += len(bs)
}

func (b *CodeBuffer) EmitU16(v uint16) {
	b.checkRoom(2)
	binary.LittleEndian.PutUint16(b.mem[b.offset:], v)
	b.offset += 2
}

func (b *CodeBuffer) EmitU32(v uint32) {
	b.checkRoom(4)
	binary.LittleEndian.PutUint32(b.mem[b.offset:], v)
	b.offset += 4
}

func (b *CodeBuffer) EmitU64(v uint64) {
	b.checkRoom(8)
	binary.LittleEndian.PutUint64(b.mem[b.offset:], v)
	b.offset += 8
}

func (b *CodeBuffer) PatchU8(offset int, v uint8) {
	b.mem[offset] = v
}

func (b *CodeBuffer) PatchU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(b.mem[offset:], v)
}

func (b *CodeBuffer) ReadU32(offset int) uint32 {
	return binary.LittleEndian.Uint32(b.mem[offset:])
}

// SetExecutable transitions the whole buffer to R+X. Used by hardened
// deployments outside an active translate session; the default
// executor path keeps the buffer R+W+X throughout, per the design's
// explicit allowance.
func (b *CodeBuffer) SetExecutable() error {
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "codebuf: mprotect exec")
	}
	return nil
}

func (b *CodeBuffer) SetWritable() error {
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.Wrap(err, "codebuf: mprotect write")
	}
	return nil
}

// SetExecutableWritable keeps the buffer in the simplified R+W+X mode
// this design runs in by default.
func (b *CodeBuffer) SetExecutableWritable() error {
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "codebuf: mprotect rwx")
	}
	return nil
}

func (b *CodeBuffer) AsSlice() []byte { return b.mem[:b.offset] }

// Close releases the underlying mapping.
func (b *CodeBuffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}
