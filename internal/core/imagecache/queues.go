package imagecache

import "container/list"

// downloadQueues holds one FIFO list per priority. The index maps every
// queued key to its list element so membership checks and cancellation do
// not scan the lists. Duplicate filtering happens in Store.AddToQueue.
//
// Admission is strictly by priority: a steady stream of high priority work
// can starve the low queue indefinitely.
type downloadQueues struct {
	lists [len(priorityOrder)]*list.List
	index map[QueueKey]*list.Element
}

func newDownloadQueues() *downloadQueues {
	q := &downloadQueues{index: make(map[QueueKey]*list.Element)}
	for i := range q.lists {
		q.lists[i] = list.New()
	}
	return q
}

func (q *downloadQueues) push(task ImageTask) {
	q.index[task.Key()] = q.lists[task.Priority.index()].PushBack(task)
}

func (q *downloadQueues) contains(key QueueKey) bool {
	_, ok := q.index[key]
	return ok
}

// remove drops key only when it waits in the queue for priority.
func (q *downloadQueues) remove(key QueueKey, priority Priority) bool {
	el, ok := q.index[key]
	if !ok || el.Value.(ImageTask).Priority != priority {
		return false
	}
	q.lists[priority.index()].Remove(el)
	delete(q.index, key)
	return true
}

// pop takes the head of the highest priority non-empty queue.
func (q *downloadQueues) pop() (ImageTask, bool) {
	for _, l := range q.lists {
		if el := l.Front(); el != nil {
			task := l.Remove(el).(ImageTask)
			delete(q.index, task.Key())
			return task, true
		}
	}
	return ImageTask{}, false
}

func (q *downloadQueues) len() int {
	return len(q.index)
}

func (q *downloadQueues) snapshot() DownloadQueues {
	collect := func(l *list.List) []ImageTask {
		out := make([]ImageTask, 0, l.Len())
		for el := l.Front(); el != nil; el = el.Next() {
			out = append(out, el.Value.(ImageTask))
		}
		return out
	}
	return DownloadQueues{
		High:   collect(q.lists[PriorityHigh.index()]),
		Normal: collect(q.lists[PriorityNormal.index()]),
		Low:    collect(q.lists[PriorityLow.index()]),
	}
}
