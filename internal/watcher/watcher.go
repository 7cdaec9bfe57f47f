package watcher

import (
	"context"
	"log"
	"time"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/model"
)

// Snapshot 某一时刻的任务状态快照
type Snapshot struct {
	JobID        int64             `json:"job_id"`
	Status       model.JobStatus   `json:"status"`
	SliceStatus  model.SliceStatus `json:"slice_status"`
	VolumeCM3    *float64          `json:"volume_cm3,omitempty"`
	Price        *float64          `json:"price"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Version      int64             `json:"version"`
}

// StatusFetcher 获取任务状态快照，由调用方提供（本地查库或远程轮询）
type StatusFetcher interface {
	Fetch(ctx context.Context, jobID int64) (*Snapshot, error)
}

// FetcherFunc 函数适配器
type FetcherFunc func(ctx context.Context, jobID int64) (*Snapshot, error)

func (f FetcherFunc) Fetch(ctx context.Context, jobID int64) (*Snapshot, error) {
	return f(ctx, jobID)
}

// Outcome 等待结果
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED" // 分析成功，报价可用
	OutcomeFailed    Outcome = "FAILED"    // 分析失败，需重新上传
	OutcomeTimeout   Outcome = "TIMEOUT"   // 次数耗尽仍未终结，任务本身可能还在进行
)

// Result 等待结束时的结果，Snapshot 为最后一次成功获取的快照。
// 超时且从未成功获取过快照时 Snapshot 为 nil。
type Result struct {
	Outcome  Outcome
	Snapshot *Snapshot
	Attempts int
}

// Watcher 有界轮询等待分析终结。瞬时获取失败计入尝试次数但不中断等待，
// 终态快照只返回一次。
type Watcher struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxAttempts int

	// OnUpdate 每次观察到版本号变化时回调，可为 nil
	OnUpdate func(*Snapshot)
}

func New(fetcher StatusFetcher, cfg *config.WatcherConfig) *Watcher {
	return &Watcher{
		fetcher:     fetcher,
		interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Wait 轮询直到分析终结、次数耗尽或 ctx 取消。
// 首次获取不等待间隔，任务已终结时立即返回。
func (w *Watcher) Wait(ctx context.Context, jobID int64) (*Result, error) {
	var last *Snapshot
	lastVersion := int64(-1)

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		snapshot, err := w.fetcher.Fetch(ctx, jobID)
		if err != nil {
			// 瞬时错误，等下一轮
			log.Printf("Watcher: job %d fetch attempt %d failed: %v", jobID, attempt, err)
		} else {
			last = snapshot

			if snapshot.Version != lastVersion {
				lastVersion = snapshot.Version
				if w.OnUpdate != nil {
					w.OnUpdate(snapshot)
				}
			}

			if snapshot.SliceStatus.IsTerminal() {
				return &Result{
					Outcome:  outcomeFor(snapshot.SliceStatus),
					Snapshot: snapshot,
					Attempts: attempt,
				}, nil
			}
		}

		if attempt == w.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.interval):
		}
	}

	return &Result{
		Outcome:  OutcomeTimeout,
		Snapshot: last,
		Attempts: w.maxAttempts,
	}, nil
}

// Session 一次 Watch 的快照流。通道在第一条终态快照或次数耗尽后关闭，
// 关闭后 Result 可用。
type Session struct {
	ch     chan *Snapshot
	result *Result
	err    error
}

// Snapshots 版本号变化的快照流
func (s *Session) Snapshots() <-chan *Snapshot {
	return s.ch
}

// Result 通道关闭后返回最终结果
func (s *Session) Result() (*Result, error) {
	return s.result, s.err
}

// Watch 以通道形式观察任务，每次版本号变化发出一条快照
func (w *Watcher) Watch(ctx context.Context, jobID int64) *Session {
	// 每次版本变化最多发出一条，缓冲按次数上限留足，消费慢也不阻塞轮询
	s := &Session{ch: make(chan *Snapshot, w.maxAttempts)}

	inner := &Watcher{
		fetcher:     w.fetcher,
		interval:    w.interval,
		maxAttempts: w.maxAttempts,
	}
	inner.OnUpdate = func(snapshot *Snapshot) {
		select {
		case s.ch <- snapshot:
		default:
		}
	}

	go func() {
		defer close(s.ch)
		s.result, s.err = inner.Wait(ctx, jobID)
	}()

	return s
}

func outcomeFor(s model.SliceStatus) Outcome {
	if s == model.SliceCompleted {
		return OutcomeCompleted
	}
	return OutcomeFailed
}
