package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// WgpuDevice adapts a webgpu device and queue to the core's Device
// interface. Buffers are created as storage buffers the shaders read.
type WgpuDevice struct {
	device *wgpu.Device
	queue  *wgpu.Queue

	next    BufferID
	buffers map[BufferID]*wgpu.Buffer
}

func NewWgpuDevice(device *wgpu.Device) *WgpuDevice {
	return &WgpuDevice{
		device:  device,
		queue:   device.GetQueue(),
		buffers: map[BufferID]*wgpu.Buffer{},
	}
}

func (d *WgpuDevice) CreateBuffer(name string, size uint64) BufferID {
	if size%4 != 0 {
		size += 4 - size%4
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            name,
		Size:             size,
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		panic(err)
	}
	d.next++
	d.buffers[d.next] = buf
	return d.next
}

func (d *WgpuDevice) BufferSize(id BufferID) uint64 {
	buf := d.buffers[id]
	if buf == nil {
		return 0
	}
	return buf.GetSize()
}

func (d *WgpuDevice) WriteBuffer(id BufferID, offsetBytes uint64, data []byte) {
	buf := d.buffers[id]
	if buf == nil {
		panic("write to unknown buffer")
	}
	d.queue.WriteBuffer(buf, offsetBytes, data)
}

func (d *WgpuDevice) DestroyBuffer(id BufferID) {
	if buf, ok := d.buffers[id]; ok {
		buf.Release()
		delete(d.buffers, id)
	}
}

// Raw returns the underlying wgpu buffer for bind group creation.
func (d *WgpuDevice) Raw(id BufferID) *wgpu.Buffer { return d.buffers[id] }
