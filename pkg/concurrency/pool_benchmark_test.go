package concurrency

import (
	"sync/atomic"
	"testing"

	"trade_engine/pkg/logging"
)

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "BenchmarkPool",
		MaxWorkers:  10,
		MaxCapacity: 1000,
	}, logging.NewNop())
	defer pool.Stop()

	b.ResetTimer()
	var counter int64
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
}

func BenchmarkQueue_PushPop(b *testing.B) {
	q := NewQueue[int](0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Push(i)
		q.TryPop()
	}
}
