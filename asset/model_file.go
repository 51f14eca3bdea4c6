// Package asset holds the on-disk codecs: voxel model files, chunk
// region files, MagicaVoxel import, and the project descriptor.
package asset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/gekko3d/voxelcore/voxel"
)

// ErrMalformedAsset reports a file that does not match its declared
// format.
var ErrMalformedAsset = errors.New("malformed asset")

const (
	TagSFT  = "SFT "
	TagTHC  = "THC "
	TagFlat = "FLAT"

	modelFileVersion = 1
)

// packedTree is the serializable face shared by the compressed tree
// schemas.
type packedTree interface {
	SideLength() int
	Attachments() *voxel.AttachmentMap
	Nodes() []voxel.TreeNode
	LookupNodes(id uint8) []voxel.AttachmentLookupNode
	RawData(id uint8) []uint32
}

// byteBuf is a little-endian append buffer with back-patching.
type byteBuf struct {
	b []byte
}

func (w *byteBuf) u8(v byte) { w.b = append(w.b, v) }

func (w *byteBuf) u32(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *byteBuf) i32(v int32) { w.u32(uint32(v)) }

func (w *byteBuf) tag(s string) { w.b = append(w.b, s...) }

// reserveU32 appends a placeholder and returns its offset for patchU32.
func (w *byteBuf) reserveU32() int {
	off := len(w.b)
	w.u32(0)
	return off
}

func (w *byteBuf) patchU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.b[off:off+4], v)
}

// cursor walks a byte slice; every read failure is a malformed asset.
type cursor struct {
	data []byte
	off  int
}

func (c *cursor) remaining() int { return len(c.data) - c.off }

func (c *cursor) u8() (byte, error) {
	if c.remaining() < 1 {
		return 0, fmt.Errorf("truncated at byte %d: %w", c.off, ErrMalformedAsset)
	}
	v := c.data[c.off]
	c.off++
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, fmt.Errorf("truncated at byte %d: %w", c.off, ErrMalformedAsset)
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) i32() (int32, error) {
	v, err := c.u32()
	return int32(v), err
}

func (c *cursor) tag() (string, error) {
	if c.remaining() < 4 {
		return "", fmt.Errorf("truncated header: %w", ErrMalformedAsset)
	}
	s := string(c.data[c.off : c.off+4])
	c.off += 4
	return s, nil
}

// builtinAttachment resolves a stored attachment id against the closed
// catalog.
func builtinAttachment(id uint8) (voxel.Attachment, bool) {
	switch id {
	case voxel.AttachmentIdPTMaterial:
		return voxel.AttachmentPTMaterial, true
	case voxel.AttachmentIdNormal:
		return voxel.AttachmentNormal, true
	case voxel.AttachmentIdEmissive:
		return voxel.AttachmentEmissive, true
	}
	return voxel.Attachment{}, false
}

// EncodeModel serializes any model variant. Mutable THC models are
// packed first; Flat gets the dense layout.
func EncodeModel(m voxel.Model) ([]byte, error) {
	switch t := m.(type) {
	case *voxel.Flat:
		return encodeFlat(t), nil
	case *voxel.THC:
		return encodeTree(TagTHC, voxel.NewTHCCompressed(t)), nil
	case *voxel.THCCompressed:
		return encodeTree(TagTHC, t), nil
	case *voxel.SFTCompressed:
		return encodeTree(TagSFT, t), nil
	}
	return nil, fmt.Errorf("cannot serialize schema %v: %w", m.Schema(), voxel.ErrSchemaMismatch)
}

func SaveModel(path string, m voxel.Model) error {
	data, err := EncodeModel(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DecodeModel parses a model file by its header tag.
func DecodeModel(data []byte) (voxel.AnyModel, error) {
	c := &cursor{data: data}
	tag, err := c.tag()
	if err != nil {
		return voxel.AnyModel{}, err
	}
	version, err := c.u32()
	if err != nil {
		return voxel.AnyModel{}, err
	}
	if version != modelFileVersion {
		return voxel.AnyModel{}, fmt.Errorf("model file version %d: %w", version, ErrMalformedAsset)
	}

	var m voxel.Model
	switch tag {
	case TagSFT, TagTHC:
		m, err = decodeTree(c, tag)
	case TagFlat:
		m, err = decodeFlat(c)
	default:
		return voxel.AnyModel{}, fmt.Errorf("unknown model tag %q: %w", tag, ErrMalformedAsset)
	}
	if err != nil {
		return voxel.AnyModel{}, err
	}
	return voxel.WrapModel(m)
}

func LoadModel(path string) (voxel.AnyModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return voxel.AnyModel{}, err
	}
	return DecodeModel(data)
}

func encodeTree(tag string, t packedTree) []byte {
	w := &byteBuf{}
	w.tag(tag)
	w.u32(modelFileVersion)
	w.u32(uint32(t.SideLength()))

	ids := t.Attachments().Ids()
	w.u32(uint32(len(ids)))
	presencePtr := make([]int, len(ids))
	dataPtr := make([]int, len(ids))
	for i, id := range ids {
		w.u8(id)
		presencePtr[i] = w.reserveU32()
		dataPtr[i] = w.reserveU32()
	}

	nodes := t.Nodes()
	w.u32(uint32(len(nodes)))
	for _, n := range nodes {
		w.u32(n.ChildPtr)
		w.u32(uint32(n.ChildMask))
		w.u32(uint32(n.ChildMask >> 32))
		w.u32(uint32(n.LeafMask))
		w.u32(uint32(n.LeafMask >> 32))
	}

	for i, id := range ids {
		w.patchU32(presencePtr[i], uint32(len(w.b)))
		lookup := t.LookupNodes(id)
		w.u32(uint32(len(lookup)))
		for _, ln := range lookup {
			w.u32(ln.DataPtr)
			w.u32(uint32(ln.Mask))
			w.u32(uint32(ln.Mask >> 32))
		}
	}
	for i, id := range ids {
		w.patchU32(dataPtr[i], uint32(len(w.b)))
		raw := t.RawData(id)
		w.u32(uint32(len(raw)))
		for _, v := range raw {
			w.u32(v)
		}
	}
	return w.b
}

func decodeTree(c *cursor, tag string) (voxel.Model, error) {
	side, err := c.u32()
	if err != nil {
		return nil, err
	}
	ids, presencePtr, dataPtr, attachments, err := readAttachmentTable(c)
	if err != nil {
		return nil, err
	}

	nodeCount, err := c.u32()
	if err != nil {
		return nil, err
	}
	nodes := make([]voxel.TreeNode, nodeCount)
	for i := range nodes {
		var vals [5]uint32
		for j := range vals {
			if vals[j], err = c.u32(); err != nil {
				return nil, err
			}
		}
		nodes[i] = voxel.TreeNode{
			ChildPtr:  vals[0],
			ChildMask: uint64(vals[1]) | uint64(vals[2])<<32,
			LeafMask:  uint64(vals[3]) | uint64(vals[4])<<32,
		}
	}

	lookup := map[uint8][]voxel.AttachmentLookupNode{}
	for i, id := range ids {
		if uint32(c.off) != presencePtr[i] {
			return nil, fmt.Errorf("attachment %d lookup block at %d, pointer says %d: %w",
				id, c.off, presencePtr[i], ErrMalformedAsset)
		}
		count, err := c.u32()
		if err != nil {
			return nil, err
		}
		block := make([]voxel.AttachmentLookupNode, count)
		for j := range block {
			var vals [3]uint32
			for k := range vals {
				if vals[k], err = c.u32(); err != nil {
					return nil, err
				}
			}
			block[j] = voxel.AttachmentLookupNode{
				DataPtr: vals[0],
				Mask:    uint64(vals[1]) | uint64(vals[2])<<32,
			}
		}
		lookup[id] = block
	}

	raw := map[uint8][]uint32{}
	for i, id := range ids {
		if uint32(c.off) != dataPtr[i] {
			return nil, fmt.Errorf("attachment %d raw block at %d, pointer says %d: %w",
				id, c.off, dataPtr[i], ErrMalformedAsset)
		}
		count, err := c.u32()
		if err != nil {
			return nil, err
		}
		block := make([]uint32, count)
		for j := range block {
			if block[j], err = c.u32(); err != nil {
				return nil, err
			}
		}
		raw[id] = block
	}

	if tag == TagSFT {
		return voxel.NewSFTCompressedFromParts(int(side), attachments, nodes, lookup, raw), nil
	}
	return voxel.NewTHCCompressedFromParts(int(side), attachments, nodes, lookup, raw), nil
}

func readAttachmentTable(c *cursor) (ids []uint8, presencePtr, dataPtr []uint32, attachments *voxel.AttachmentMap, err error) {
	count, err := c.u32()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	attachments = voxel.NewAttachmentMap()
	for i := uint32(0); i < count; i++ {
		id, err := c.u8()
		if err != nil {
			return nil, nil, nil, nil, err
		}
		pp, err := c.u32()
		if err != nil {
			return nil, nil, nil, nil, err
		}
		dp, err := c.u32()
		if err != nil {
			return nil, nil, nil, nil, err
		}
		att, ok := builtinAttachment(id)
		if !ok {
			return nil, nil, nil, nil, fmt.Errorf("unknown attachment id %d: %w", id, ErrMalformedAsset)
		}
		if err := attachments.Register(att); err != nil {
			return nil, nil, nil, nil, err
		}
		ids = append(ids, id)
		presencePtr = append(presencePtr, pp)
		dataPtr = append(dataPtr, dp)
	}
	return ids, presencePtr, dataPtr, attachments, nil
}

func encodeFlat(f *voxel.Flat) []byte {
	w := &byteBuf{}
	w.tag(TagFlat)
	w.u32(modelFileVersion)
	dims := f.Dimensions()
	w.u32(uint32(dims[0]))
	w.u32(uint32(dims[1]))
	w.u32(uint32(dims[2]))

	ids := f.Attachments().Ids()
	w.u32(uint32(len(ids)))
	presencePtr := make([]int, len(ids))
	dataPtr := make([]int, len(ids))
	for i, id := range ids {
		w.u8(id)
		presencePtr[i] = w.reserveU32()
		dataPtr[i] = w.reserveU32()
	}

	words := f.Presence().Words()
	w.u32(uint32(len(words)))
	for _, v := range words {
		w.u32(v)
	}

	for i, id := range ids {
		w.patchU32(presencePtr[i], uint32(len(w.b)))
		var aw []uint32
		if bs := f.AttachmentPresence(id); bs != nil {
			aw = bs.Words()
		}
		w.u32(uint32(len(aw)))
		for _, v := range aw {
			w.u32(v)
		}
	}
	for i, id := range ids {
		w.patchU32(dataPtr[i], uint32(len(w.b)))
		raw := f.AttachmentData(id)
		w.u32(uint32(len(raw)))
		for _, v := range raw {
			w.u32(v)
		}
	}
	return w.b
}

func decodeFlat(c *cursor) (voxel.Model, error) {
	var dims [3]int
	for a := 0; a < 3; a++ {
		v, err := c.u32()
		if err != nil {
			return nil, err
		}
		dims[a] = int(v)
	}
	ids, presencePtr, dataPtr, attachments, err := readAttachmentTable(c)
	if err != nil {
		return nil, err
	}

	f, err := voxel.NewFlat(dims, attachments)
	if err != nil {
		return nil, err
	}
	wordCount, err := c.u32()
	if err != nil {
		return nil, err
	}
	if int(wordCount) != len(f.Presence().Words()) {
		return nil, fmt.Errorf("presence bitset holds %d words, want %d: %w",
			wordCount, len(f.Presence().Words()), ErrMalformedAsset)
	}
	presence := f.Presence().Words()
	for i := range presence {
		if presence[i], err = c.u32(); err != nil {
			return nil, err
		}
	}

	attPresence := map[uint8][]uint32{}
	for i, id := range ids {
		if uint32(c.off) != presencePtr[i] {
			return nil, fmt.Errorf("attachment %d presence block at %d, pointer says %d: %w",
				id, c.off, presencePtr[i], ErrMalformedAsset)
		}
		count, err := c.u32()
		if err != nil {
			return nil, err
		}
		block := make([]uint32, count)
		for j := range block {
			if block[j], err = c.u32(); err != nil {
				return nil, err
			}
		}
		attPresence[id] = block
	}
	for i, id := range ids {
		if uint32(c.off) != dataPtr[i] {
			return nil, fmt.Errorf("attachment %d raw block at %d, pointer says %d: %w",
				id, c.off, dataPtr[i], ErrMalformedAsset)
		}
		count, err := c.u32()
		if err != nil {
			return nil, err
		}
		raw := make([]uint32, count)
		for j := range raw {
			if raw[j], err = c.u32(); err != nil {
				return nil, err
			}
		}
		if len(attPresence[id]) == 0 && len(raw) == 0 {
			continue
		}
		if err := f.RestoreAttachment(id, attPresence[id], raw); err != nil {
			return nil, fmt.Errorf("attachment %d: %w", id, err)
		}
	}
	return f, nil
}
