package model

// JobStatus 订单状态，由顾客/运营驱动
type JobStatus string

const (
	StatusPending  JobStatus = "PENDING"
	StatusPaid     JobStatus = "PAID"
	StatusSlicing  JobStatus = "SLICING"
	StatusPrinting JobStatus = "PRINTING"
	StatusDone     JobStatus = "DONE"
	StatusRejected JobStatus = "REJECTED"
)

// statusTransitions 订单状态机，未列出的迁移一律非法
var statusTransitions = map[JobStatus][]JobStatus{
	StatusPending:  {StatusPaid, StatusPrinting, StatusRejected},
	StatusPaid:     {StatusPrinting, StatusRejected},
	StatusSlicing:  {StatusPrinting, StatusRejected},
	StatusPrinting: {StatusPaid, StatusDone},
	StatusDone:     {},
	StatusRejected: {},
}

func (s JobStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsTerminal 终态不允许任何后续迁移
func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusRejected
}

// CanTransition 判断 s -> to 是否是合法迁移
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SliceStatus 切片分析状态，由切片引擎驱动，与订单状态相互独立
type SliceStatus string

const (
	SliceNone       SliceStatus = "NONE"
	SliceInProgress SliceStatus = "IN_PROGRESS"
	SliceCompleted  SliceStatus = "COMPLETED"
	SliceFailed     SliceStatus = "FAILED"
)

var sliceTransitions = map[SliceStatus][]SliceStatus{
	SliceNone:       {SliceInProgress, SliceFailed},
	SliceInProgress: {SliceCompleted, SliceFailed},
	SliceCompleted:  {},
	SliceFailed:     {},
}

func (s SliceStatus) Valid() bool {
	_, ok := sliceTransitions[s]
	return ok
}

// IsTerminal COMPLETED/FAILED 之后分析不再变化，失败需要重新上传
func (s SliceStatus) IsTerminal() bool {
	return s == SliceCompleted || s == SliceFailed
}

func (s SliceStatus) CanTransition(to SliceStatus) bool {
	for _, next := range sliceTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
