// Package freelist implements the buddy allocator's free-lists index:
// one doubly-linked list of Frame per order, summarized by a bitmap of
// non-empty orders, per spec.md §4.4. Grounded on the teacher's
// per-order block lists (BuddyRegion.blocks[order]/blockMap[order] in
// hybrid/buddy.go) plus
// other_examples/59911d78_cloudwego-gopkg__unsafex-malloc-buddy.go.go's
// bits.TrailingZeros bitmap-scan idiom -- the teacher's map-based lists
// never needed a bitmap since it scanned orders linearly.
package freelist

import (
	"fmt"
	"math/bits"

	"github.com/shenjiangwei/kpalloc/frame"
	"github.com/shenjiangwei/kpalloc/list"
)

// MaxOrders is the bitmap width bound from spec.md §4.4.
const MaxOrders = 64

// Index is an array of per-order free lists with a bitmap summarizing
// which orders are non-empty. The bitmap is an invariant, not a cache:
// every mutating operation keeps it synchronized with list emptiness.
type Index struct {
	lists  []list.DoublyList[frame.Frame, *frame.Frame]
	bitmap uint64
	orders uint8
}

// New returns an Index with orders empty per-order lists. orders must
// be in [1, MaxOrders].
func New(orders uint8) *Index {
	if orders == 0 || orders > MaxOrders {
		panic(fmt.Sprintf("freelist: orders %d out of range (1..%d)", orders, MaxOrders))
	}
	return &Index{
		lists:  make([]list.DoublyList[frame.Frame, *frame.Frame], orders),
		orders: orders,
	}
}

// Orders returns the number of order slots.
func (idx *Index) Orders() uint8 { return idx.orders }

// Bitmap returns the current non-empty-order bitmap, bit k set iff
// order k's list is non-empty.
func (idx *Index) Bitmap() uint64 { return idx.bitmap }

// Len returns the number of frames on order k's list.
func (idx *Index) Len(order uint8) int { return idx.lists[order].Len() }

// PushFrame reads f.Order and pushes f to the front of that order's
// list, setting the order's bitmap bit.
func (idx *Index) PushFrame(f *frame.Frame) {
	order := f.Order
	idx.lists[order].PushFront(f)
	idx.bitmap |= 1 << order
}

// PopFrame pops the front of order k's list, clearing the bitmap bit if
// the list becomes empty. Returns nil if the list was already empty.
func (idx *Index) PopFrame(order uint8) *frame.Frame {
	f := idx.lists[order].PopFront()
	if idx.lists[order].Empty() {
		idx.bitmap &^= 1 << order
	}
	return f
}

// RemoveFrame splices f out of order k's list without walking it,
// clearing the bitmap bit if the list becomes empty.
func (idx *Index) RemoveFrame(f *frame.Frame) {
	order := f.Order
	idx.lists[order].Remove(f)
	if idx.lists[order].Empty() {
		idx.bitmap &^= 1 << order
	}
}

// FindFirstFreeFrom returns the smallest order >= k with a non-empty
// list, and true, or (0, false) if none exists. O(1) via
// bits.TrailingZeros64 over the bitmap masked below k.
func (idx *Index) FindFirstFreeFrom(k uint8) (uint8, bool) {
	if k >= 64 {
		return 0, false
	}
	masked := idx.bitmap &^ ((uint64(1) << k) - 1)
	if masked == 0 {
		return 0, false
	}
	order := uint8(bits.TrailingZeros64(masked))
	if order >= idx.orders {
		return 0, false
	}
	return order, true
}
