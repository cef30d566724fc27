// Package list implements intrusive singly- and doubly-linked lists.
// Elements are not owned by the list: each element carries its own link
// fields, exposed through a capability interface, exactly as spec.md
// §4.1 requires so the allocator's bookkeeping never needs a secondary
// allocation. The teacher never factored this out -- frame.Frame's
// prev/next fields in hybrid/buddy.go and hsAllocator/buddy.go are
// linked inline -- but the spec requires the same list machinery serve
// both buddy frames and slab frames, so it is generalized here.
package list

// Linkable is the capability a type needs to be stored in a SinglyList:
// a single forward link, reachable only through a pointer to T.
type Linkable[T any] interface {
	*T
	Next() *T
	SetNext(*T)
}

// DoublyLinkable extends Linkable with a backward link, the capability
// needed for a DoublyList and its Cursor.
type DoublyLinkable[T any] interface {
	Linkable[T]
	Prev() *T
	SetPrev(*T)
}

func isDetached[T any, N Linkable[T]](n *T) bool {
	var np N = n
	return np.Next() == nil
}

func isDetachedD[T any, N DoublyLinkable[T]](n *T) bool {
	var np N = n
	return np.Next() == nil && np.Prev() == nil
}

// SinglyList is an intrusive, singly-linked, FIFO-ordered list of *T.
type SinglyList[T any, N Linkable[T]] struct {
	head, tail *T
	length     int
}

// Len returns the number of elements currently linked.
func (l *SinglyList[T, N]) Len() int { return l.length }

// Empty reports whether the list has no elements.
func (l *SinglyList[T, N]) Empty() bool { return l.length == 0 }

// PushFront links n at the head of the list in O(1).
// Precondition: n is detached (its link field is nil and it is not this
// list's tail); violating this is a fatal invariant violation,
// debug-asserted here.
func (l *SinglyList[T, N]) PushFront(n *T) {
	if !isDetached[T, N](n) || n == l.tail {
		panic("list: PushFront of a still-linked node")
	}
	var np N = n
	np.SetNext(l.head)
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.length++
}

// PushBack links n at the tail of the list in O(1).
func (l *SinglyList[T, N]) PushBack(n *T) {
	if !isDetached[T, N](n) || n == l.tail {
		panic("list: PushBack of a still-linked node")
	}
	var np N = n
	np.SetNext(nil)
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		var tp N = l.tail
		tp.SetNext(n)
		l.tail = n
	}
	l.length++
}

// PopFront unlinks and returns the head element, detaching its link
// field before returning. Returns nil if the list is empty.
func (l *SinglyList[T, N]) PopFront() *T {
	if l.head == nil {
		return nil
	}
	n := l.head
	var np N = n
	l.head = np.Next()
	if l.head == nil {
		l.tail = nil
	}
	np.SetNext(nil)
	l.length--
	return n
}

// Drain detaches up to n items from the front of the list (all of them
// if n >= Len) and yields them as a lazy iterator, matching spec.md
// §4.1's singly-linked drain contract.
func (l *SinglyList[T, N]) Drain(n int) func(yield func(*T) bool) {
	return func(yield func(*T) bool) {
		for i := 0; i < n; i++ {
			item := l.PopFront()
			if item == nil {
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

// DoublyList is an intrusive, doubly-linked list of *T, supporting O(1)
// removal of an arbitrary member via Remove.
type DoublyList[T any, N DoublyLinkable[T]] struct {
	head, tail *T
	length     int
}

// Len returns the number of elements currently linked.
func (l *DoublyList[T, N]) Len() int { return l.length }

// Empty reports whether the list has no elements.
func (l *DoublyList[T, N]) Empty() bool { return l.length == 0 }

// Front returns the head element without unlinking it, or nil.
func (l *DoublyList[T, N]) Front() *T { return l.head }

// Back returns the tail element without unlinking it, or nil.
func (l *DoublyList[T, N]) Back() *T { return l.tail }

// PushFront links n at the head of the list in O(1).
func (l *DoublyList[T, N]) PushFront(n *T) {
	if !isDetachedD[T, N](n) || n == l.head {
		panic("list: PushFront of a still-linked node")
	}
	var np N = n
	np.SetNext(l.head)
	np.SetPrev(nil)
	if l.head != nil {
		var hp N = l.head
		hp.SetPrev(n)
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.length++
}

// PushBack links n at the tail of the list in O(1).
func (l *DoublyList[T, N]) PushBack(n *T) {
	if !isDetachedD[T, N](n) || n == l.head {
		panic("list: PushBack of a still-linked node")
	}
	var np N = n
	np.SetPrev(l.tail)
	np.SetNext(nil)
	if l.tail != nil {
		var tp N = l.tail
		tp.SetNext(n)
	}
	l.tail = n
	if l.head == nil {
		l.head = n
	}
	l.length++
}

// PopFront unlinks and returns the head element, or nil if empty.
func (l *DoublyList[T, N]) PopFront() *T {
	if l.head == nil {
		return nil
	}
	n := l.head
	l.Remove(n)
	return n
}

// PopBack unlinks and returns the tail element, or nil if empty.
func (l *DoublyList[T, N]) PopBack() *T {
	if l.tail == nil {
		return nil
	}
	n := l.tail
	l.Remove(n)
	return n
}

// Remove unsplices node from the list in O(1) without walking it.
// Precondition: node is actually a member of this list; violating this
// is undefined by pointer arithmetic alone, so callers must track
// membership (the buddy and slab allocators do, via Frame.State).
func (l *DoublyList[T, N]) Remove(node *T) {
	var np N = node
	prev, next := np.Prev(), np.Next()

	if prev != nil {
		var pp N = prev
		pp.SetNext(next)
	} else {
		l.head = next
	}
	if next != nil {
		var nxp N = next
		nxp.SetPrev(prev)
	} else {
		l.tail = prev
	}

	np.SetNext(nil)
	np.SetPrev(nil)
	l.length--
}

// Cursor walks a DoublyList, supporting positional mutation without
// restarting the walk from the head.
type Cursor[T any, N DoublyLinkable[T]] struct {
	list *DoublyList[T, N]
	cur  *T
}

// NewCursor returns a Cursor positioned at the head of l.
func NewCursor[T any, N DoublyLinkable[T]](l *DoublyList[T, N]) *Cursor[T, N] {
	return &Cursor[T, N]{list: l, cur: l.head}
}

// Peek returns the node the cursor currently points at, or nil.
func (c *Cursor[T, N]) Peek() *T { return c.cur }

// Move advances the cursor to the next node; a no-op past the tail.
func (c *Cursor[T, N]) Move() {
	if c.cur == nil {
		return
	}
	var cp N = c.cur
	c.cur = cp.Next()
}

// InsertBefore links n immediately before the cursor's current node.
func (c *Cursor[T, N]) InsertBefore(n *T) {
	if !isDetachedD[T, N](n) {
		panic("list: InsertBefore of a still-linked node")
	}
	if c.cur == nil {
		c.list.PushBack(n)
		return
	}
	var curp N = c.cur
	prev := curp.Prev()
	var np N = n
	np.SetPrev(prev)
	np.SetNext(c.cur)
	curp.SetPrev(n)
	if prev != nil {
		var pp N = prev
		pp.SetNext(n)
	} else {
		c.list.head = n
	}
	c.list.length++
}

// InsertAfter links n immediately after the cursor's current node.
func (c *Cursor[T, N]) InsertAfter(n *T) {
	if !isDetachedD[T, N](n) {
		panic("list: InsertAfter of a still-linked node")
	}
	if c.cur == nil {
		c.list.PushFront(n)
		return
	}
	var curp N = c.cur
	next := curp.Next()
	var np N = n
	np.SetNext(next)
	np.SetPrev(c.cur)
	curp.SetNext(n)
	if next != nil {
		var nxp N = next
		nxp.SetPrev(n)
	} else {
		c.list.tail = n
	}
	c.list.length++
}

// RemoveCurrent unsplices the node under the cursor and advances the
// cursor to what was next.
func (c *Cursor[T, N]) RemoveCurrent() *T {
	if c.cur == nil {
		return nil
	}
	removed := c.cur
	var rp N = removed
	next := rp.Next()
	c.list.Remove(removed)
	c.cur = next
	return removed
}

// SplitAfter detaches everything after the cursor's current node into a
// new DoublyList, leaving the cursor's list holding only the prefix up
// to and including the current node.
func (c *Cursor[T, N]) SplitAfter() *DoublyList[T, N] {
	tail := &DoublyList[T, N]{}
	if c.cur == nil {
		*tail = *c.list
		*c.list = DoublyList[T, N]{}
		return tail
	}
	var curp N = c.cur
	rest := curp.Next()
	if rest == nil {
		return tail
	}
	curp.SetNext(nil)

	var restp N = rest
	restp.SetPrev(nil)

	tail.head = rest
	tail.tail = c.list.tail
	count := 0
	for n := rest; n != nil; {
		count++
		var np N = n
		n = np.Next()
	}
	tail.length = count

	c.list.tail = c.cur
	c.list.length -= count
	return tail
}

// SpliceAfter transfers every element of other into this list
// immediately after the cursor's current node, leaving other empty.
func (c *Cursor[T, N]) SpliceAfter(other *DoublyList[T, N]) {
	if other.Empty() {
		return
	}
	if c.cur == nil {
		if c.list.Empty() {
			*c.list = *other
		} else {
			var headp N = c.list.head
			headp.SetPrev(other.tail)
			var otailp N = other.tail
			otailp.SetNext(c.list.head)
			c.list.head = other.head
			c.list.length += other.length
		}
		*other = DoublyList[T, N]{}
		return
	}

	var curp N = c.cur
	next := curp.Next()

	curp.SetNext(other.head)
	var ohp N = other.head
	ohp.SetPrev(c.cur)

	var otp N = other.tail
	otp.SetNext(next)
	if next != nil {
		var nxp N = next
		nxp.SetPrev(other.tail)
	} else {
		c.list.tail = other.tail
	}

	c.list.length += other.length
	*other = DoublyList[T, N]{}
}
