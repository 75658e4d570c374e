package fsdb

import (
	"encoding/json"
	"fmt"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/rarydzu/blockfs/utils"
)

type InodeAttributes struct {
	// Hash keeps the symlink target for symlinks, empty otherwise.
	Hash     string
	ParentID uint64
	// BlockMap holds the physical block number for every allocated
	// logical block, indexed by logical block number. Entry i is valid
	// iff i < Blocks. Blocks are allocated strictly in increasing
	// logical order, so the map never has holes.
	BlockMap []uint32
	// Blocks is the number of allocated logical blocks.
	Blocks uint32
	fuseops.InodeAttributes
}

func DbInodeKey(parent uint64, name string) []byte {
	if len(name) == 0 {
		return []byte(fmt.Sprintf("%d:", parent))
	}
	return []byte(fmt.Sprintf("%d:%s", parent, name))
}

type Inode struct {
	InodeID  uint64
	Name     string
	ParentID uint64
	Attrs    InodeAttributes
}

func NewInode(id, parent uint64, name string, attrs InodeAttributes) *Inode {
	attrs.ParentID = parent
	return &Inode{
		InodeID:  id,
		Name:     name,
		ParentID: parent,
		Attrs:    attrs,
	}
}

func (i *Inode) ID() fuseops.InodeID {
	return fuseops.InodeID(i.InodeID)
}

func (i *Inode) Parent() fuseops.InodeID {
	return fuseops.InodeID(i.ParentID)
}

func (i *Inode) SetID(id fuseops.InodeID) {
	i.InodeID = uint64(id)
}

func (i *Inode) SetParent(parent fuseops.InodeID) {
	i.ParentID = uint64(parent)
}

func (i *Inode) SetName(name string) {
	i.Name = name
}

func (i *Inode) DbID() []byte {
	return utils.Uint64ToBytes(i.InodeID)
}

func (i *Inode) SetInodeAttributes(attr fuseops.InodeAttributes) {
	i.Attrs.InodeAttributes = attr
}

func (i *Inode) SetHash(hash string) {
	i.Attrs.Hash = hash
}

func (i *Inode) SetAttrsParent(parent fuseops.InodeID) {
	i.Attrs.ParentID = uint64(parent)
}

// PhysicalBlock resolves a logical block number through the block map.
// The parameter is uint64 so an out of range index compares against the
// map instead of wrapping onto a mapped block.
func (i *Inode) PhysicalBlock(logical uint64) (uint32, bool) {
	if logical >= uint64(i.Attrs.Blocks) || logical >= uint64(len(i.Attrs.BlockMap)) {
		return 0, false
	}
	return i.Attrs.BlockMap[logical], true
}

// AppendBlock records a freshly allocated physical block as the next
// logical block. The caller guarantees sequential, gap free growth.
func (i *Inode) AppendBlock(physical uint32) {
	i.Attrs.BlockMap = append(i.Attrs.BlockMap, physical)
	i.Attrs.Blocks++
}

func (i *Inode) Marshall() ([]byte, error) {
	return json.Marshal(i)
}

func (i *Inode) Unmarshall(data []byte) error {
	return json.Unmarshal(data, i)
}

func (ia *InodeAttributes) Marshall() ([]byte, error) {
	return json.Marshal(ia)
}

func (ia *InodeAttributes) Unmarshall(data []byte) error {
	return json.Unmarshal(data, ia)
}

func (ia *InodeAttributes) GetHash() string {
	return ia.Hash
}
