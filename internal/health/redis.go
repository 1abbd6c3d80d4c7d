package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks the connection of the redis session registry.
type RedisChecker struct {
	client *redis.Client
	name   string
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   "redis",
	}
}

// Name returns the name of the checker.
func (r *RedisChecker) Name() string {
	return r.name
}

// Check pings Redis. Sessions keep streaming without the registry, so a
// failure only degrades the service.
func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return Degraded(fmt.Errorf("redis ping failed: %w", err))
	}
	return nil
}

// Details reports connection pool counters.
func (r *RedisChecker) Details() map[string]interface{} {
	st := r.client.PoolStats()
	return map[string]interface{}{
		"total_conns": st.TotalConns,
		"idle_conns":  st.IdleConns,
		"timeouts":    st.Timeouts,
	}
}

// MemoryChecker degrades when the Go heap grows past a limit.
type MemoryChecker struct {
	maxHeap uint64 // bytes, 0 disables the limit
}

// NewMemoryChecker creates a new memory checker.
func NewMemoryChecker(maxHeapBytes uint64) *MemoryChecker {
	return &MemoryChecker{
		maxHeap: maxHeapBytes,
	}
}

// Name returns the name of the checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

// Check compares the live heap against the limit.
func (m *MemoryChecker) Check(ctx context.Context) error {
	if m.maxHeap == 0 {
		return nil
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc > m.maxHeap {
		return Degraded(fmt.Errorf("heap %d MB exceeds limit of %d MB", ms.HeapAlloc>>20, m.maxHeap>>20))
	}
	return nil
}

// Details reports heap and goroutine counts.
func (m *MemoryChecker) Details() map[string]interface{} {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]interface{}{
		"heap_alloc_mb": ms.HeapAlloc >> 20,
		"sys_mb":        ms.Sys >> 20,
		"num_gc":        ms.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}
}
