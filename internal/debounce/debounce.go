// Package debounce 将高频编辑合并为静默窗口结束后的一次提交，
// 并用单调序号丢弃过期响应。
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow 默认静默窗口
const DefaultWindow = 500 * time.Millisecond

// Patch 一次编辑的字段集合，nil 表示该字段未修改
type Patch struct {
	Quantity *int
	Material *string
	Color    *string
}

// IsEmpty 所有字段均未修改
func (p *Patch) IsEmpty() bool {
	return p.Quantity == nil && p.Material == nil && p.Color == nil
}

// merge 逐字段合并，后到的值覆盖先到的
func (p *Patch) merge(next *Patch) {
	if next.Quantity != nil {
		p.Quantity = next.Quantity
	}
	if next.Material != nil {
		p.Material = next.Material
	}
	if next.Color != nil {
		p.Color = next.Color
	}
}

// FlushFunc 窗口结束时的提交回调，seq 为本次提交的序号
type FlushFunc func(seq int64, patch *Patch)

// Editor 单个任务的编辑合并器。连续 Push 只会产生一次提交：
// 每次 Push 重置窗口，窗口内无新编辑时才触发 flush。
type Editor struct {
	mu      sync.Mutex
	window  time.Duration
	flush   FlushFunc
	pending *Patch
	timer   *time.Timer
	seq     int64 // 最近一次发出的提交序号
	closed  bool
}

// NewEditor window <= 0 时使用 DefaultWindow
func NewEditor(window time.Duration, flush FlushFunc) *Editor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Editor{
		window: window,
		flush:  flush,
	}
}

// Push 记录一次编辑并重置静默窗口
func (e *Editor) Push(patch *Patch) {
	if patch == nil || patch.IsEmpty() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	if e.pending == nil {
		e.pending = &Patch{}
	}
	e.pending.merge(patch)

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.window, e.fire)
}

// Flush 立即提交当前累积的编辑，不等窗口结束
func (e *Editor) Flush() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	e.fire()
}

// Accept 判断序号为 seq 的响应是否仍是最新。
// 提交后又有新提交发出时，旧响应应当被丢弃。
func (e *Editor) Accept(seq int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return seq == e.seq
}

// Close 关闭合并器并提交剩余编辑
func (e *Editor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	e.fire()
}

func (e *Editor) fire() {
	e.mu.Lock()
	patch := e.pending
	e.pending = nil
	if patch == nil || patch.IsEmpty() {
		e.mu.Unlock()
		return
	}
	e.seq++
	seq := e.seq
	flush := e.flush
	e.mu.Unlock()

	if flush != nil {
		flush(seq, patch)
	}
}
