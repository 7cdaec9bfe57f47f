package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/model"
	"github.com/qs3c/print_go_server/internal/model/dto"
	"github.com/qs3c/print_go_server/internal/pkg/queue"
	"github.com/qs3c/print_go_server/internal/repository"
)

var (
	ErrJobNotFound       = errors.New("打印任务不存在")
	ErrInvalidTransition = errors.New("非法的状态迁移")
	ErrTerminalState     = errors.New("任务已终结，不可再修改")
	ErrInvalidQuantity   = errors.New("数量必须大于等于 1")
	ErrUnknownMaterial   = errors.New("不支持的材料类型")
	ErrInvalidFormat     = errors.New("不支持的文件格式")
	ErrFileTooLarge      = errors.New("文件过大")
	ErrQuoteNotReady     = errors.New("切片尚未完成，报价未生成，无法推进订单")
	ErrInvalidStatus     = errors.New("无效的状态值")
)

// JobService 任务生命周期控制器。所有 status/slice_status 写入都必须经过这里，
// 单个任务的状态迁移按 per-job 锁串行化。
type JobService struct {
	jobRepo      *repository.JobRepository
	materialRepo *repository.MaterialRepository
	pricing      *PricingService
	sliceQueue   *queue.Queue
	cfg          *config.Config

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewJobService(
	jobRepo *repository.JobRepository,
	materialRepo *repository.MaterialRepository,
	pricing *PricingService,
	sliceQueue *queue.Queue,
	cfg *config.Config,
) *JobService {
	return &JobService{
		jobRepo:      jobRepo,
		materialRepo: materialRepo,
		pricing:      pricing,
		sliceQueue:   sliceQueue,
		cfg:          cfg,
		locks:        make(map[int64]*sync.Mutex),
	}
}

// lockJob 取单个任务的互斥锁
func (s *JobService) lockJob(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// Create 创建任务：保存模型文件、落库、投递切片任务。
// 立即返回 PENDING/NONE 的任务快照，切片结果靠轮询或 WebSocket 获取。
func (s *JobService) Create(ctx context.Context, src io.Reader, filename, material, color string, quantity int) (*model.PrintJob, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	material = strings.ToUpper(strings.TrimSpace(material))
	if material == "" || !s.pricing.KnownMaterial(material) {
		return nil, ErrUnknownMaterial
	}

	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, allowedExt := range s.cfg.Upload.AllowedExtensions {
		if ext == allowedExt {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidFormat
	}

	filePath, err := s.saveModelFile(src, ext)
	if err != nil {
		return nil, err
	}

	job := &model.PrintJob{
		Filename:    filename,
		FilePath:    filePath,
		Status:      model.StatusPending,
		SliceStatus: model.SliceNone,
		Material:    material,
		Color:       color,
		Quantity:    quantity,
	}

	if err := s.jobRepo.Create(job); err != nil {
		os.Remove(filePath)
		return nil, err
	}

	// 投递切片任务，入队失败直接把分析标记为失败而不是吞掉
	if s.sliceQueue != nil {
		msg := &queue.SliceMessage{
			JobID:    job.ID,
			FilePath: job.FilePath,
			Filename: job.Filename,
			Material: job.Material,
			Quantity: job.Quantity,
		}
		if err := s.sliceQueue.Push(ctx, msg); err != nil {
			s.jobRepo.UpdateFields(job.ID, map[string]interface{}{
				"slice_status":  model.SliceFailed,
				"error_message": "切片任务入队失败，请重新上传",
			})
			job.SliceStatus = model.SliceFailed
			job.ErrorMessage = "切片任务入队失败，请重新上传"
		}
	}

	return job, nil
}

// Update 部分更新：只修改传入的字段。数量/材料变化会基于已知体积立即重算价格；
// 体积未知时价格保持未定义。status 变化走状态机校验，非法迁移不产生任何修改；
// 推进到 PAID/PRINTING 还要求报价已生成，越过报价只能走 Approve 的 force 通道。
func (s *JobService) Update(id int64, req *dto.UpdateJobRequest) (*model.PrintJob, error) {
	lock := s.lockJob(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	// 终态任务拒绝一切修改
	if job.Status.IsTerminal() {
		return nil, ErrTerminalState
	}

	// 先做全部校验，任何一项失败都不落库
	if req.Quantity != nil && *req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	var newMaterial string
	if req.Material != nil {
		newMaterial = strings.ToUpper(strings.TrimSpace(*req.Material))
		if !s.pricing.KnownMaterial(newMaterial) {
			return nil, ErrUnknownMaterial
		}
	}
	var targetStatus model.JobStatus
	if req.Status != nil {
		targetStatus = model.JobStatus(strings.ToUpper(*req.Status))
		if !targetStatus.Valid() {
			return nil, ErrInvalidStatus
		}
		if !job.Status.CanTransition(targetStatus) {
			return nil, ErrInvalidTransition
		}
		// PENDING 直达 PRINTING 是管理员 force 批准的专用通道，不开放给普通编辑
		if job.Status == model.StatusPending && targetStatus == model.StatusPrinting {
			return nil, ErrInvalidTransition
		}
		// 推进到 PAID/PRINTING 必须已有报价
		if targetStatus == model.StatusPaid || targetStatus == model.StatusPrinting {
			if job.SliceStatus != model.SliceCompleted || job.Price == nil {
				return nil, ErrQuoteNotReady
			}
		}
	}

	fields := make(map[string]interface{})
	quantity := job.Quantity
	material := job.Material

	if req.Quantity != nil && *req.Quantity != job.Quantity {
		quantity = *req.Quantity
		fields["quantity"] = quantity
	}
	if req.Material != nil && newMaterial != job.Material {
		material = newMaterial
		fields["material"] = material
	}
	if req.Color != nil && *req.Color != job.Color {
		fields["color"] = *req.Color
	}

	// 数量或材料变化时基于最后已知体积重算价格
	if _, ok := fields["quantity"]; ok {
		s.repriceInto(fields, job, material, quantity)
	} else if _, ok := fields["material"]; ok {
		s.repriceInto(fields, job, material, quantity)
	}

	if len(fields) > 0 {
		if err := s.jobRepo.UpdateFields(id, fields); err != nil {
			return nil, err
		}
	}

	if req.Status != nil {
		ok, err := s.jobRepo.UpdateStatusFrom(id, job.Status, targetStatus)
		if err != nil {
			return nil, err
		}
		if !ok {
			// 被并发写入抢先，当前状态已不是读到的那个
			return nil, ErrInvalidTransition
		}
	}

	return s.jobRepo.GetByID(id)
}

func (s *JobService) repriceInto(fields map[string]interface{}, job *model.PrintJob, material string, quantity int) {
	if job.VolumeCM3 == nil {
		return // 体积未知，价格保持未定义，等切片完成后再报价
	}
	price := s.pricing.Quote(material, quantity, *job.VolumeCM3)
	fields["price"] = price
}

// Approve 运营批准：PENDING 且已有报价时进入 PAID，PAID 进入 PRINTING。
// force 为管理员越权通道，允许在切片未完成时直接 PENDING -> PRINTING。
func (s *JobService) Approve(id int64, force bool) (*model.PrintJob, error) {
	lock := s.lockJob(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if job.Status.IsTerminal() {
		return nil, ErrTerminalState
	}

	var target model.JobStatus
	switch job.Status {
	case model.StatusPending:
		if force {
			target = model.StatusPrinting
		} else {
			if job.SliceStatus != model.SliceCompleted || job.Price == nil {
				return nil, ErrQuoteNotReady
			}
			target = model.StatusPaid
		}
	case model.StatusPaid:
		target = model.StatusPrinting
	default:
		return nil, ErrInvalidTransition
	}

	return s.applyTransition(job, target)
}

// Pause 暂停打印，任务回到队列（PAID），不是独立状态
func (s *JobService) Pause(id int64) (*model.PrintJob, error) {
	return s.transition(id, model.StatusPaid, []model.JobStatus{model.StatusPrinting})
}

// Reject 拒单，终态
func (s *JobService) Reject(id int64) (*model.PrintJob, error) {
	return s.transition(id, model.StatusRejected, []model.JobStatus{model.StatusPending, model.StatusPaid})
}

// Complete 打印完成，终态
func (s *JobService) Complete(id int64) (*model.PrintJob, error) {
	return s.transition(id, model.StatusDone, []model.JobStatus{model.StatusPrinting})
}

func (s *JobService) transition(id int64, target model.JobStatus, allowedFrom []model.JobStatus) (*model.PrintJob, error) {
	lock := s.lockJob(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if job.Status.IsTerminal() {
		return nil, ErrTerminalState
	}

	allowed := false
	for _, from := range allowedFrom {
		if job.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidTransition
	}

	return s.applyTransition(job, target)
}

// applyTransition 条件更新保证并发下只有一个写入者完成迁移
func (s *JobService) applyTransition(job *model.PrintJob, target model.JobStatus) (*model.PrintJob, error) {
	ok, err := s.jobRepo.UpdateStatusFrom(job.ID, job.Status, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	// 开始打印时扣减耗材库存
	if target == model.StatusPrinting && s.materialRepo != nil && job.WeightG != nil {
		grams := *job.WeightG * float64(job.Quantity)
		if err := s.materialRepo.DeductStockByType(job.Material, grams); err != nil {
			// 库存扣减失败不回滚订单迁移，只记录
			return s.jobRepo.GetByID(job.ID)
		}
	}

	return s.jobRepo.GetByID(job.ID)
}

// GetStatus 轮询快照
func (s *JobService) GetStatus(id int64) (*dto.JobStatusResponse, error) {
	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &dto.JobStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		SliceStatus:  string(job.SliceStatus),
		VolumeCM3:    job.VolumeCM3,
		Price:        job.Price,
		ErrorMessage: job.ErrorMessage,
		Version:      job.Version,
	}, nil
}

// GetDetails 完整详情，包含切片元数据
func (s *JobService) GetDetails(id int64) (*dto.JobDetail, error) {
	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &dto.JobDetail{
		JobID:            job.ID,
		Filename:         job.Filename,
		Status:           string(job.Status),
		SliceStatus:      string(job.SliceStatus),
		Material:         job.Material,
		Color:            job.Color,
		Quantity:         job.Quantity,
		VolumeCM3:        job.VolumeCM3,
		WeightG:          job.WeightG,
		PrintTimeSeconds: job.PrintTimeSeconds,
		Price:            job.Price,
		SlicedFilePath:   job.SlicedFilePath,
		SlicedOSSURL:     job.SlicedOSSURL,
		Metadata:         job.Metadata,
		ErrorMessage:     job.ErrorMessage,
		Version:          job.Version,
		CreatedAt:        job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        job.UpdatedAt.Format(time.RFC3339),
	}, nil
}

// List 运营控制台列表，按创建时间倒序
func (s *JobService) List(statusFilter string) ([]*dto.JobListItem, error) {
	var status model.JobStatus
	if statusFilter != "" {
		status = model.JobStatus(strings.ToUpper(statusFilter))
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
	}

	jobs, err := s.jobRepo.List(status)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.JobListItem, len(jobs))
	for i, job := range jobs {
		items[i] = &dto.JobListItem{
			JobID:       job.ID,
			Filename:    job.Filename,
			Status:      string(job.Status),
			SliceStatus: string(job.SliceStatus),
			Material:    job.Material,
			Quantity:    job.Quantity,
			Price:       job.Price,
			CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		}
	}

	return items, nil
}

// ModelFilePath 原始模型文件路径
func (s *JobService) ModelFilePath(id int64) (string, error) {
	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrJobNotFound
		}
		return "", err
	}
	return job.FilePath, nil
}

// SlicedFilePath 切片产物路径。产物缺失时回退到原始上传文件。
func (s *JobService) SlicedFilePath(id int64) (path string, fallback bool, err error) {
	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, ErrJobNotFound
		}
		return "", false, err
	}

	if job.SliceStatus == model.SliceCompleted && job.SlicedFilePath != "" {
		return job.SlicedFilePath, false, nil
	}
	return job.FilePath, true, nil
}

func (s *JobService) saveModelFile(src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.cfg.Upload.Dir, 0755); err != nil {
		return "", err
	}

	fileID, err := generateFileID()
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.cfg.Upload.Dir, fileID+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(src, s.cfg.Upload.MaxSize+1))
	if err != nil {
		os.Remove(path)
		return "", err
	}
	if written > s.cfg.Upload.MaxSize {
		os.Remove(path)
		return "", ErrFileTooLarge
	}

	return path, nil
}

func generateFileID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
