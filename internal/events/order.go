package events

import (
	"bytes"
	"container/heap"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Key is the total ordering key of an event. Type and Contract only break ties
// between events of different sources sharing a log position.
type Key struct {
	Block    uint64
	LogIndex uint
	Type     string
	Contract common.Address
}

// OrderKey returns the ordering key of e.
func OrderKey(e Event) Key {
	return Key{Block: e.BlockNumber, LogIndex: e.LogIndex, Type: e.Type, Contract: e.Contract}
}

// Compare returns -1, 0 or 1 depending on whether k sorts before, with or after other.
func (k Key) Compare(other Key) int {
	switch {
	case k.Block != other.Block:
		return cmpUint(k.Block, other.Block)
	case k.LogIndex != other.LogIndex:
		return cmpUint(uint64(k.LogIndex), uint64(other.LogIndex))
	case k.Type != other.Type:
		if k.Type < other.Type {
			return -1
		}
		return 1
	default:
		return bytes.Compare(k.Contract[:], other.Contract[:])
	}
}

func cmpUint(a, b uint64) int {
	if a < b {
		return -1
	}
	return 1
}

// Less reports whether a orders strictly before b.
func Less(a, b Event) bool {
	return OrderKey(a).Compare(OrderKey(b)) < 0
}

// SortEvents sorts a single sequence in place. Equal keys keep their input order.
func SortEvents(evs []Event) {
	sort.SliceStable(evs, func(i, j int) bool { return Less(evs[i], evs[j]) })
}

// MergeSorted merges sequences that are each sorted by OrderKey into one sorted
// sequence. Equal keys keep source order, then position order, so the result is
// the stable sort of the concatenation.
func MergeSorted(seqs ...[]Event) []Event {
	total := 0
	h := make(cursorHeap, 0, len(seqs))
	for i, seq := range seqs {
		total += len(seq)
		if len(seq) > 0 {
			h = append(h, cursor{source: i, seq: seq, key: OrderKey(seq[0])})
		}
	}
	if total == 0 {
		return nil
	}
	heap.Init(&h)

	out := make([]Event, 0, total)
	for h.Len() > 0 {
		c := &h[0]
		out = append(out, c.seq[c.pos])
		c.pos++
		if c.pos == len(c.seq) {
			heap.Pop(&h)
			continue
		}
		c.key = OrderKey(c.seq[c.pos])
		heap.Fix(&h, 0)
	}
	return out
}

type cursor struct {
	source int
	seq    []Event
	pos    int
	key    Key
}

type cursorHeap []cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if c := h[i].key.Compare(h[j].key); c != 0 {
		return c < 0
	}
	return h[i].source < h[j].source
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(cursor)) }

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
