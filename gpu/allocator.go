package gpu

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/gekko3d/voxelcore"
)

// ErrOutOfHeap is returned when the allocator cannot satisfy a request.
var ErrOutOfHeap = errors.New("voxel heap exhausted")

// MinAllocationSize is the smallest block the buddy tree hands out.
const MinAllocationSize = 16

// Allocation is a live range inside the heap buffer. Length is a power
// of two and the offset is a multiple of the length.
type Allocation struct {
	traversal uint64
	start     uint64
	length    uint64
}

func (a Allocation) OffsetBytes() uint64 { return a.start }
func (a Allocation) LengthBytes() uint64 { return a.length }

// OffsetDwords is the start index when shaders view the heap as an
// array<u32>.
func (a Allocation) OffsetDwords() uint32 { return uint32(a.start >> 2) }
func (a Allocation) LengthDwords() uint32 { return uint32(a.length >> 2) }

// HeapAllocator is the power-of-two buddy allocator over one device
// buffer.
type HeapAllocator struct {
	log    voxelcore.Logger
	device Device
	buffer BufferID

	root           *allocNode
	totalAllocated uint64
}

func NewHeapAllocator(device Device, log voxelcore.Logger, name string, size uint64) *HeapAllocator {
	if size == 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("heap size %d must be a power of two", size))
	}
	if log == nil {
		log = voxelcore.NewNopLogger()
	}
	return &HeapAllocator{
		log:    log,
		device: device,
		buffer: device.CreateBuffer(name, size),
		root:   &allocNode{size: size},
	}
}

func (h *HeapAllocator) Buffer() BufferID { return h.buffer }

func (h *HeapAllocator) Size() uint64 { return h.root.size }

func (h *HeapAllocator) TotalAllocated() uint64 { return h.totalAllocated }

func roundUpPow2(v uint64) uint64 {
	if v <= MinAllocationSize {
		return MinAllocationSize
	}
	return 1 << (64 - bits.LeadingZeros64(v-1))
}

// Allocate returns the leftmost free block of the rounded-up size.
func (h *HeapAllocator) Allocate(bytes uint64) (Allocation, error) {
	return h.AllocateAligned(bytes, 1)
}

// AllocateAligned widens the block until its natural alignment covers
// align; buddy offsets are always multiples of the block length.
func (h *HeapAllocator) AllocateAligned(bytes, align uint64) (Allocation, error) {
	size := roundUpPow2(bytes)
	if align > size {
		size = roundUpPow2(align)
	}
	if size > h.root.size {
		return Allocation{}, fmt.Errorf("request of %d bytes exceeds heap of %d: %w", size, h.root.size, ErrOutOfHeap)
	}
	alloc, ok := h.root.allocate(size)
	if !ok {
		return Allocation{}, fmt.Errorf("no free block of %d bytes: %w", size, ErrOutOfHeap)
	}
	h.totalAllocated += size
	h.log.Debugf("allocated %d bytes at %d", size, alloc.start)
	return alloc, nil
}

// Free releases the block and merges free buddies.
func (h *HeapAllocator) Free(a Allocation) {
	if a.length == 0 {
		return
	}
	if h.root.free(a.start, a.length) {
		h.totalAllocated -= a.length
	} else {
		h.log.Warnf("free of unknown allocation at %d (%d bytes)", a.start, a.length)
	}
}

// Realloc is free-then-allocate; the caller re-uploads the contents.
func (h *HeapAllocator) Realloc(a Allocation, newBytes uint64) (Allocation, error) {
	h.Free(a)
	return h.Allocate(newBytes)
}

// WriteBytes uploads into an allocated range.
func (h *HeapAllocator) WriteBytes(a Allocation, data []byte) {
	if uint64(len(data)) > a.length {
		panic("write exceeds allocation")
	}
	h.device.WriteBuffer(h.buffer, a.start, data)
}

// WriteDwords uploads u32 data in the little-endian wire form.
func (h *HeapAllocator) WriteDwords(a Allocation, dwords []uint32) {
	h.WriteBytes(a, DwordBytes(dwords))
}

type allocNode struct {
	traversal uint64
	start     uint64
	size      uint64
	left      *allocNode
	right     *allocNode
	allocated bool
}

func (n *allocNode) allocate(size uint64) (Allocation, bool) {
	if n.allocated {
		return Allocation{}, false
	}
	if size == n.size {
		if n.left != nil || n.right != nil {
			return Allocation{}, false
		}
		n.allocated = true
		return Allocation{traversal: n.traversal, start: n.start, length: n.size}, true
	}
	if size > n.size {
		return Allocation{}, false
	}

	childSize := n.size >> 1
	newChild := func(dir uint64) *allocNode {
		return &allocNode{
			traversal: n.traversal | dir<<bits.TrailingZeros64(n.size),
			start:     n.start + childSize*dir,
			size:      childSize,
		}
	}

	if n.left != nil {
		if a, ok := n.left.allocate(size); ok {
			return a, true
		}
	} else {
		n.left = newChild(0)
		return n.left.allocate(size)
	}

	if n.right != nil {
		if a, ok := n.right.allocate(size); ok {
			return a, true
		}
	} else {
		n.right = newChild(1)
		return n.right.allocate(size)
	}

	return Allocation{}, false
}

func (n *allocNode) isFreeLeaf() bool {
	return !n.allocated && n.left == nil && n.right == nil
}

func (n *allocNode) free(start, size uint64) bool {
	if n.size == size {
		if n.start != start || !n.allocated {
			return false
		}
		n.allocated = false
		return true
	}
	if size > n.size {
		return false
	}
	half := n.size >> 1
	child := &n.left
	if start >= n.start+half {
		child = &n.right
	}
	if *child == nil {
		return false
	}
	if !(*child).free(start, size) {
		return false
	}
	// Merge: drop fully free subtrees so buddies can recombine.
	if (*child).isFreeLeaf() {
		*child = nil
	}
	return true
}
