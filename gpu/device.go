package gpu

import "encoding/binary"

// BufferID is an opaque handle to a device buffer.
type BufferID uint32

// Device is the slice of the graphics backend the voxel core consumes.
// Implementations serialize writes; the core is the only writer.
type Device interface {
	CreateBuffer(name string, size uint64) BufferID
	BufferSize(id BufferID) uint64
	WriteBuffer(id BufferID, offsetBytes uint64, data []byte)
	DestroyBuffer(id BufferID)
}

// MemDevice backs buffers with plain byte slices. It stands in for the
// GPU in tests and headless tools.
type MemDevice struct {
	next    BufferID
	buffers map[BufferID][]byte
	names   map[BufferID]string
}

func NewMemDevice() *MemDevice {
	return &MemDevice{
		buffers: map[BufferID][]byte{},
		names:   map[BufferID]string{},
	}
}

func (d *MemDevice) CreateBuffer(name string, size uint64) BufferID {
	d.next++
	id := d.next
	d.buffers[id] = make([]byte, size)
	d.names[id] = name
	return id
}

func (d *MemDevice) BufferSize(id BufferID) uint64 {
	return uint64(len(d.buffers[id]))
}

func (d *MemDevice) WriteBuffer(id BufferID, offsetBytes uint64, data []byte) {
	buf, ok := d.buffers[id]
	if !ok {
		panic("write to unknown buffer")
	}
	if offsetBytes+uint64(len(data)) > uint64(len(buf)) {
		panic("write past end of buffer")
	}
	copy(buf[offsetBytes:], data)
}

func (d *MemDevice) DestroyBuffer(id BufferID) {
	delete(d.buffers, id)
	delete(d.names, id)
}

// Bytes exposes a buffer's contents for assertions.
func (d *MemDevice) Bytes(id BufferID) []byte { return d.buffers[id] }

// Dwords reads a buffer back as little-endian u32s.
func (d *MemDevice) Dwords(id BufferID) []uint32 {
	buf := d.buffers[id]
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out
}

// DwordBytes packs u32s into the little-endian wire form.
func DwordBytes(dwords []uint32) []byte {
	out := make([]byte, len(dwords)*4)
	for i, d := range dwords {
		binary.LittleEndian.PutUint32(out[i*4:], d)
	}
	return out
}
