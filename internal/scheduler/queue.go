// ABOUTME: Heap of work items ordered by ready time then enqueue sequence
// ABOUTME: Implements container/heap.Interface

package scheduler

import (
	"time"

	"github.com/2389/coven-conclave/internal/jobs"
)

type item struct {
	readyAt time.Time
	seq     uint64
	job     *jobs.Job
	key     string
	index   int
}

type queue []*item

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if !q[i].readyAt.Equal(q[j].readyAt) {
		return q[i].readyAt.Before(q[j].readyAt)
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}
