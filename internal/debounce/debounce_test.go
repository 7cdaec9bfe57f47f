package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flushRecorder 记录每次提交的序号与合并结果
type flushRecorder struct {
	mu      sync.Mutex
	seqs    []int64
	patches []*Patch
}

func (r *flushRecorder) flush(seq int64, patch *Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, seq)
	r.patches = append(r.patches, patch)
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patches)
}

func (r *flushRecorder) last() *Patch {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.patches) == 0 {
		return nil
	}
	return r.patches[len(r.patches)-1]
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func waitForFlush(t *testing.T, r *flushRecorder, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d flushes, got %d", want, r.count())
}

func TestEditor_CoalescesBurst(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(30*time.Millisecond, rec.flush)

	// 快速连续编辑只产生一次提交
	e.Push(&Patch{Quantity: intPtr(1)})
	e.Push(&Patch{Quantity: intPtr(2)})
	e.Push(&Patch{Quantity: intPtr(3)})

	waitForFlush(t, rec, 1)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, rec.count())
	require.NotNil(t, rec.last().Quantity)
	assert.Equal(t, 3, *rec.last().Quantity, "latest value wins")
}

func TestEditor_MergesAcrossFields(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(30*time.Millisecond, rec.flush)

	e.Push(&Patch{Quantity: intPtr(2)})
	e.Push(&Patch{Material: strPtr("PETG")})
	e.Push(&Patch{Color: strPtr("#FF0000")})

	waitForFlush(t, rec, 1)

	p := rec.last()
	require.NotNil(t, p.Quantity)
	require.NotNil(t, p.Material)
	require.NotNil(t, p.Color)
	assert.Equal(t, 2, *p.Quantity)
	assert.Equal(t, "PETG", *p.Material)
	assert.Equal(t, "#FF0000", *p.Color)
}

func TestEditor_WindowResetOnPush(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(80*time.Millisecond, rec.flush)

	e.Push(&Patch{Quantity: intPtr(1)})
	time.Sleep(50 * time.Millisecond)
	// 窗口内再次编辑，重新计时
	e.Push(&Patch{Quantity: intPtr(2)})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, rec.count(), "window was reset, no flush yet")

	waitForFlush(t, rec, 1)
	assert.Equal(t, 2, *rec.last().Quantity)
}

func TestEditor_SeparateBurstsFlushSeparately(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(20*time.Millisecond, rec.flush)

	e.Push(&Patch{Quantity: intPtr(1)})
	waitForFlush(t, rec, 1)

	e.Push(&Patch{Quantity: intPtr(5)})
	waitForFlush(t, rec, 2)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int64{1, 2}, rec.seqs, "seq is monotonic per flush")
	assert.Equal(t, 1, *rec.patches[0].Quantity)
	assert.Equal(t, 5, *rec.patches[1].Quantity)
}

func TestEditor_AcceptDiscardsStaleResponse(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(20*time.Millisecond, rec.flush)

	e.Push(&Patch{Quantity: intPtr(1)})
	waitForFlush(t, rec, 1)
	firstSeq := rec.seqs[0]
	assert.True(t, e.Accept(firstSeq))

	// 新提交发出后，旧响应过期
	e.Push(&Patch{Quantity: intPtr(2)})
	waitForFlush(t, rec, 2)

	assert.False(t, e.Accept(firstSeq))
	assert.True(t, e.Accept(rec.seqs[1]))
}

func TestEditor_FlushImmediate(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(time.Hour, rec.flush)

	e.Push(&Patch{Material: strPtr("ABS")})
	e.Flush()

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "ABS", *rec.last().Material)

	// 无累积编辑时 Flush 不产生空提交
	e.Flush()
	assert.Equal(t, 1, rec.count())
}

func TestEditor_CloseFlushesRemainder(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(time.Hour, rec.flush)

	e.Push(&Patch{Quantity: intPtr(7)})
	e.Close()

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 7, *rec.last().Quantity)

	// 关闭后的编辑被忽略
	e.Push(&Patch{Quantity: intPtr(8)})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestEditor_EmptyPatchIgnored(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEditor(20*time.Millisecond, rec.flush)

	e.Push(nil)
	e.Push(&Patch{})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, rec.count())
}
