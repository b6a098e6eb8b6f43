package thing

import "github.com/nerrad567/geeny-gateway/internal/device"

// entry is one registration in an interception queue.
type entry struct {
	char       device.Characteristic
	transform  Transform
	persistent bool
}

// queue holds at most one interception entry per key.
type queue struct {
	entries map[string]entry
}

func newQueue() *queue {
	return &queue{entries: make(map[string]entry)}
}

// put stores e under key and reports whether it was stored. An occupied
// slot is only taken over when both the held and the new entry are
// persistent.
func (q *queue) put(key string, e entry) bool {
	if prev, ok := q.entries[key]; ok && !(prev.persistent && e.persistent) {
		return false
	}
	q.entries[key] = e
	return true
}

func (q *queue) get(key string) (entry, bool) {
	e, ok := q.entries[key]
	return e, ok
}

func (q *queue) remove(key string) {
	delete(q.entries, key)
}

func (q *queue) has(key string) bool {
	_, ok := q.entries[key]
	return ok
}

func (q *queue) keys() []string {
	out := make([]string, 0, len(q.entries))
	for k := range q.entries {
		out = append(out, k)
	}
	return out
}
