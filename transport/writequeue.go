// File: transport/writequeue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Priority lanes holding frames that have not reached the socket yet.

package transport

import (
	"fmt"
	"strings"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/pool"
)

const maxFlushOrderLength = 32

// outFrame is one queued frame. buf is nil for heartbeats.
type outFrame struct {
	buf   *pool.Buffer
	frame []byte
	kind  string
}

// writeQueue holds three lanes drained in the configured flush order. A
// frame that was partly written always finishes before the next starts.
type writeQueue struct {
	lanes  [3]*queue.Queue
	order  []api.WritePriority
	cursor int

	current *outFrame
	offset  int
	bytes   int
}

func newWriteQueue(order string) (*writeQueue, error) {
	parsed, err := parseFlushOrder(order)
	if err != nil {
		return nil, err
	}
	q := &writeQueue{order: parsed}
	for i := range q.lanes {
		q.lanes[i] = queue.New()
	}
	return q, nil
}

// parseFlushOrder accepts a non-empty string of H, M and L.
func parseFlushOrder(s string) ([]api.WritePriority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || len(s) > maxFlushOrderLength {
		return nil, fmt.Errorf("flush order must hold 1 to %d lanes", maxFlushOrderLength)
	}
	out := make([]api.WritePriority, 0, len(s))
	for _, r := range s {
		switch r {
		case 'H':
			out = append(out, api.PriorityHigh)
		case 'M':
			out = append(out, api.PriorityMedium)
		case 'L':
			out = append(out, api.PriorityLow)
		default:
			return nil, fmt.Errorf("flush order: unknown lane %q", r)
		}
	}
	return out, nil
}

func (q *writeQueue) setOrder(order string) error {
	parsed, err := parseFlushOrder(order)
	if err != nil {
		return err
	}
	q.order = parsed
	q.cursor = 0
	return nil
}

func (q *writeQueue) orderString() string {
	var b strings.Builder
	for _, p := range q.order {
		b.WriteByte("HML"[p])
	}
	return b.String()
}

func (q *writeQueue) push(p api.WritePriority, f *outFrame) {
	if p < api.PriorityHigh || p > api.PriorityLow {
		p = api.PriorityMedium
	}
	q.lanes[p].Add(f)
	q.bytes += len(f.frame)
}

// queued is the number of unwritten bytes.
func (q *writeQueue) queued() int { return q.bytes }

func (q *writeQueue) empty() bool { return q.bytes == 0 && q.current == nil }

// next takes the following frame in flush order. Lanes missing from the
// order are still drained once the named lanes are empty.
func (q *writeQueue) next() *outFrame {
	for range q.order {
		lane := q.lanes[q.order[q.cursor]]
		q.cursor = (q.cursor + 1) % len(q.order)
		if lane.Length() > 0 {
			return lane.Remove().(*outFrame)
		}
	}
	for _, lane := range q.lanes {
		if lane.Length() > 0 {
			return lane.Remove().(*outFrame)
		}
	}
	return nil
}

// flush writes frames until the queue is empty or w would block. done is
// called for every frame that reached the socket completely.
func (q *writeQueue) flush(w func([]byte) (int, error), done func(*outFrame)) error {
	for {
		if q.current == nil {
			q.current = q.next()
			q.offset = 0
			if q.current == nil {
				return nil
			}
		}
		n, err := w(q.current.frame[q.offset:])
		if n > 0 {
			q.offset += n
			q.bytes -= n
		}
		if q.offset == len(q.current.frame) {
			f := q.current
			q.current = nil
			done(f)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errWouldBlock
		}
	}
}

// drain hands every unwritten frame to release and empties the queue.
func (q *writeQueue) drain(release func(*outFrame)) {
	if q.current != nil {
		release(q.current)
		q.current = nil
	}
	for _, lane := range q.lanes {
		for lane.Length() > 0 {
			release(lane.Remove().(*outFrame))
		}
	}
	q.bytes = 0
	q.offset = 0
}
