package transfer

import "testing"

func TestChunkPoolReuse(t *testing.T) {
	poolA := chunkPoolFor(1024)
	poolB := chunkPoolFor(1024)
	if poolA != poolB {
		t.Fatalf("expected same pool for identical buffer sizes")
	}

	buf := poolA.Get()
	if len(buf) != 1024 {
		t.Fatalf("expected buffer size 1024, got %d", len(buf))
	}
	poolA.Put(buf)
}

func TestChunkPoolDefaultSize(t *testing.T) {
	if got := chunkPoolFor(0).BufSize(); got != defaultBufferSize {
		t.Fatalf("expected default buffer size %d, got %d", defaultBufferSize, got)
	}
}
