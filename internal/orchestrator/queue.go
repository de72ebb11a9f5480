package orchestrator

import (
	"github.com/spritepal/previewcache/pkg/types"
)

// requestQueue is a min-heap of pending requests ordered by
// (priority, created_at): higher priority first, FIFO within a priority.
type requestQueue []*types.PreviewRequest

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool { return q[i].Less(q[j]) }

func (q requestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *requestQueue) Push(x interface{}) {
	*q = append(*q, x.(*types.PreviewRequest))
}

func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return req
}
