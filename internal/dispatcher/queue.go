package dispatcher

import (
	"container/heap"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/job"
)

type item struct {
	task     Task
	envelope job.Envelope
	seq      uint64
}

// taskHeap orders items by job.Compare, falling back to submission order.
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if c := job.Compare(h[i].envelope, h[j].envelope); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func (h *taskHeap) push(it *item) { heap.Push(h, it) }

func (h *taskHeap) pop() *item {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*item)
}
