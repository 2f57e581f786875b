package transfer

import (
	"sync"

	"github.com/sheerbytes/gridflux/internal/bufpool"
)

var chunkPools sync.Map // map[int]*bufpool.Pool

// chunkPoolFor returns the process-wide pool for bufSize-byte buffers, so
// sessions configured with the same buffer size share memory.
func chunkPoolFor(bufSize int) *bufpool.Pool {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	if pool, ok := chunkPools.Load(bufSize); ok {
		return pool.(*bufpool.Pool)
	}
	pool := bufpool.New(bufSize)
	actual, _ := chunkPools.LoadOrStore(bufSize, pool)
	return actual.(*bufpool.Pool)
}
