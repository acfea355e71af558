package position

import (
	"context"

	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/queue"
)

// MockSource replays batches pushed by tests or demo mode.
type MockSource struct {
	out *queue.SPSC[[]geometry.SourcePosition]
}

// NewMockSource creates a mock that buffers up to size batches.
func NewMockSource(size int) *MockSource {
	return &MockSource{out: queue.NewSPSC[[]geometry.SourcePosition](size)}
}

// Push queues a batch. It reports false when the queue is full.
func (m *MockSource) Push(positions ...geometry.SourcePosition) bool {
	return m.out.TryEnqueue(positions)
}

// Run blocks until ctx is done.
func (m *MockSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// TryRead returns the newest batch.
func (m *MockSource) TryRead() ([]geometry.SourcePosition, bool) {
	return m.out.DrainLatest()
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return string(BackendMock)
}
