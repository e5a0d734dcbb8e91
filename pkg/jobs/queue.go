package jobs

import (
	"container/heap"

	"alephauto/pkg/jobs/models"
)

// queueItem wraps a queued job with the FIFO tiebreak sequence number used
// when priorities are equal.
type queueItem struct {
	job *models.Job
	seq uint64
}

// priorityQueue orders items by descending Options.Priority, breaking ties
// by ascending seq (earlier enqueue wins) — strict FIFO when no priority is
// supplied, since every job then shares priority 0.
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	pi, pj := pq[i].job.Options.Priority, pq[j].job.Options.Priority
	if pi != pj {
		return pi > pj
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*queueItem))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// jobQueue is the dispatcher's bounded, priority-aware FIFO queue. All
// access is mediated by the dispatcher fiber; callers must hold Engine.mu.
type jobQueue struct {
	items  priorityQueue
	nextSeq uint64
	maxSize int
}

func newJobQueue(maxSize int) *jobQueue {
	q := &jobQueue{maxSize: maxSize}
	heap.Init(&q.items)
	return q
}

func (q *jobQueue) Len() int { return q.items.Len() }

func (q *jobQueue) Full() bool { return q.maxSize > 0 && q.Len() >= q.maxSize }

func (q *jobQueue) Push(job *models.Job) {
	heap.Push(&q.items, &queueItem{job: job, seq: q.nextSeq})
	q.nextSeq++
}

func (q *jobQueue) Pop() *models.Job {
	if q.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*queueItem)
	return item.job
}
