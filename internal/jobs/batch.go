// internal/jobs/batch.go
package jobs

import (
	"context"
	"sync"
)

// BatchStateError reports an operation against a closed or unknown
// batch handle. Checked locally, never deferred to the remote service.
type BatchStateError struct {
	Handle string
	Reason string
}

func (e *BatchStateError) Error() string { return "batch " + e.Handle + ": " + e.Reason }

type batchState int

const (
	batchOpenState batchState = iota
	batchClosedState
)

// Batch tracks one open batch: its handle is the job id returned by
// the opening submission, and every later submission references it.
// Cross-call ordering per batch is the caller's job; the state check
// itself is race-free.
type Batch struct {
	submitter *Submitter
	device    string

	mu     sync.Mutex
	handle string
	state  batchState
}

// StartBatch opens a batch on device with the given execution-cost
// ceiling. The first job is submitted immediately and its id becomes
// the batch handle.
func (s *Submitter) StartBatch(ctx context.Context, device string, p Payload, shots, maxCost int) (*Batch, error) {
	id, err := s.Submit(ctx, device, p, shots, OpenBatch(maxCost))
	if err != nil {
		return nil, err
	}
	s.log.Infow("batch opened", "device", device, "handle", id, "max_cost", maxCost)
	return &Batch{submitter: s, device: device, handle: id, state: batchOpenState}, nil
}

// ResumeBatch reconstructs an open batch from a handle obtained
// earlier, e.g. in a previous process.
func (s *Submitter) ResumeBatch(device, handle string) *Batch {
	return &Batch{submitter: s, device: device, handle: handle, state: batchOpenState}
}

// Handle returns the batch handle (the opening submission's job id).
func (b *Batch) Handle() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

// Closed reports whether the batch has been closed.
func (b *Batch) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == batchClosedState
}

// Add submits another job under the batch. end closes the batch: the
// submission carries batch-end and no further Add may reference the
// handle afterward.
func (b *Batch) Add(ctx context.Context, p Payload, shots int, end bool) (string, error) {
	b.mu.Lock()
	if b.state == batchClosedState {
		b.mu.Unlock()
		return "", &BatchStateError{Handle: b.handle, Reason: "already closed"}
	}
	intent := ContinueBatch(b.handle)
	if end {
		intent = CloseBatch(b.handle)
	}
	b.mu.Unlock()

	id, err := b.submitter.Submit(ctx, b.device, p, shots, intent)
	if err != nil {
		return "", err
	}
	if end {
		b.mu.Lock()
		b.state = batchClosedState
		b.mu.Unlock()
		b.submitter.log.Infow("batch closed", "handle", b.handle)
	}
	return id, nil
}

// Close submits the final job of the batch.
func (b *Batch) Close(ctx context.Context, p Payload, shots int) (string, error) {
	return b.Add(ctx, p, shots, true)
}
