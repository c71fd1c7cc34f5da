package sim

import (
	"sync/atomic"

	"github.com/signalsfoundry/smallsat-twin/model"
)

// CommandQueue is a bounded FIFO of decoded telecommands. Enqueue is safe
// to call from any goroutine and never blocks; the simulation goroutine
// drains it at the start of every tick.
type CommandQueue struct {
	ch    chan model.Command
	bytes atomic.Int64
}

// NewCommandQueue returns a queue holding at most capacity commands.
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &CommandQueue{ch: make(chan model.Command, capacity)}
}

// Enqueue adds cmd and reports whether there was room for it.
func (q *CommandQueue) Enqueue(cmd model.Command) bool {
	select {
	case q.ch <- cmd:
		q.bytes.Add(commandBytes(cmd))
		return true
	default:
		return false
	}
}

// Drain removes and returns, in arrival order, the commands queued when it
// was called. Commands enqueued while draining wait for the next call.
func (q *CommandQueue) Drain() []model.Command {
	n := len(q.ch)
	if n == 0 {
		return nil
	}
	out := make([]model.Command, 0, n)
	for i := 0; i < n; i++ {
		cmd := <-q.ch
		q.bytes.Add(-commandBytes(cmd))
		out = append(out, cmd)
	}
	return out
}

// Clear discards every queued command and returns how many were dropped.
func (q *CommandQueue) Clear() int { return len(q.Drain()) }

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *CommandQueue) Cap() int { return cap(q.ch) }

// PendingBytes returns the encoded size of the queued commands: ID plus
// parameters.
func (q *CommandQueue) PendingBytes() int { return int(q.bytes.Load()) }

func commandBytes(cmd model.Command) int64 { return int64(2 + len(cmd.Payload)) }
