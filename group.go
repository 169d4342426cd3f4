package bitfs

import (
	"fmt"

	"github.com/bitfs/go-bitfs/util/bitmap"
)

// blocksPerGroup is G: one bit per data block in a group's bitmap block.
const blocksPerGroup = blockSize * 8

// Group is one block group: a bitmap block addressing blocksPerGroup data
// blocks that immediately follow it on disk.
type Group struct {
	bitmap *bitmap.Bitmap
}

// newGroup returns a freshly zeroed (all-free) group.
func newGroup() *Group {
	return &Group{bitmap: bitmap.NewBits(blocksPerGroup)}
}

// groupFromBytes reconstructs a group from its serialised bitmap block.
func groupFromBytes(b []byte) *Group {
	return &Group{bitmap: bitmap.FromBytes(b)}
}

// serialize returns the group's bitmap block, padded to blockSize.
func (g *Group) serialize() []byte {
	raw := g.bitmap.ToBytes()
	out := make([]byte, blockSize)
	copy(out, raw)
	return out
}

// groupSeekPosition returns the byte offset of group index's bitmap block:
// B + g*(B + G*B).
func groupSeekPosition(index uint32) uint64 {
	return uint64(blockSize) + uint64(index)*(uint64(blockSize)+uint64(blocksPerGroup)*uint64(blockSize))
}

// blockAddress converts a (group, bit) coordinate into a global block
// address. Address 0 is reserved for the superblock and address 1 is group
// 0's bitmap block, so the first data block of group 0 is address 2 (each
// group's bitmap block occupies the address immediately preceding its
// first data block, i.e. groupSeekPosition(g)/B).
func blockAddress(group, bit uint32) uint32 {
	return uint32(groupSeekPosition(group)/blockSize) + bit + 1
}

// translateAddress is the exact inverse of blockAddress: it recovers the
// (group, bit) coordinate that produced a. This resolves Open Question #1
// in SPEC_FULL.md — the original's modulus-based inverse was not a true
// inverse near group boundaries, so this implementation is derived
// directly from blockAddress's definition instead.
//
// Each group occupies 1+G addresses on the "address minus one" number
// line: one for its bitmap block, G for its data blocks. So subtracting 1
// from a and dividing by (1+G) gives the group index directly, and the
// remainder minus 1 gives the bit (the bitmap block itself is remainder 0,
// which is never passed to translateAddress by callers in this package).
func translateAddress(a uint32) (group, bit uint32) {
	span := uint32(blocksPerGroup) + 1
	n := a - 1
	group = n / span
	bit = n%span - 1
	return group, bit
}

// AllocateOne finds the lowest clear bit in the group, sets it, and
// returns the corresponding global address. It returns ok=false if the
// group is full.
func (g *Group) AllocateOne(groupIndex uint32) (addr uint32, ok bool) {
	bit := g.bitmap.FirstFree(0)
	if bit < 0 {
		return 0, false
	}
	_ = g.bitmap.Set(bit)
	return blockAddress(groupIndex, uint32(bit)), true
}

// ForceAllocateAt marks bit as allocated unconditionally. Used only by
// Init to reserve the root inode's bit.
func (g *Group) ForceAllocateAt(bit uint32) {
	_ = g.bitmap.Set(int(bit))
}

// ReleaseOne clears bit.
func (g *Group) ReleaseOne(bit uint32) {
	_ = g.bitmap.Clear(int(bit))
}

// ReleaseRegion clears length bits starting at bit.
func (g *Group) ReleaseRegion(bit, length uint32) {
	for i := bit; i < bit+length; i++ {
		_ = g.bitmap.Clear(int(i))
	}
}

// region is a contiguous run of allocated data blocks, named by its
// starting global address and length.
type region struct {
	start  uint32
	length uint32
}

// AllocateRegion scans the group's bitmap once in strictly increasing bit
// order, building maximal runs of clear bits and claiming them
// immediately as it goes. A run opens on the first clear bit seen after a
// set bit (or the start of the scan) and closes on a set bit, on want
// reaching 0, or on reaching the end of the bitmap. The scan itself stops
// as soon as maxRegions closed runs have accumulated, on whichever closing
// path got there first — want reaching 0 and end-of-scan close a run the
// same way a set bit does, so the cap applies uniformly regardless of why
// a run closed. It returns the claimed ranges (as global addresses) and
// the number of blocks still needed.
func (g *Group) AllocateRegion(groupIndex uint32, want, maxRegions int) (ranges []region, remaining int) {
	var open *region
	n := g.bitmap.Len()
	capped := false

	closeOpen := func() {
		if open != nil {
			ranges = append(ranges, *open)
			open = nil
			if len(ranges) == maxRegions {
				capped = true
			}
		}
	}

	for bit := 0; bit < n; bit++ {
		if want == 0 {
			closeOpen()
			break
		}

		set, _ := g.bitmap.IsSet(bit)
		if !set {
			if open != nil {
				open.length++
			} else {
				open = &region{start: blockAddress(groupIndex, uint32(bit)), length: 1}
			}
			want--
			_ = g.bitmap.Set(bit)
		} else if open != nil {
			closeOpen()
			if capped {
				break
			}
		}

		if bit == n-1 {
			closeOpen()
		}
	}

	return ranges, want
}

// CountZeros returns the number of free data blocks in the group.
func (g *Group) CountZeros() int {
	return g.bitmap.CountZeros()
}

// TotalDataBlocks returns the number of data blocks the group addresses.
func (g *Group) TotalDataBlocks() int {
	return g.bitmap.Len()
}

// String implements fmt.Stringer for diagnostic output (fsinfo).
func (g *Group) String() string {
	return fmt.Sprintf("group{free=%d/%d}", g.CountZeros(), g.TotalDataBlocks())
}
