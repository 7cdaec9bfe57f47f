package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/model"
	"github.com/qs3c/print_go_server/internal/pkg/oss"
	"github.com/qs3c/print_go_server/internal/pkg/pubsub"
	"github.com/qs3c/print_go_server/internal/pkg/queue"
	"github.com/qs3c/print_go_server/internal/repository"
	"github.com/qs3c/print_go_server/internal/service"
)

// priceWriteAttempts 报价写入的版本冲突重试上限
const priceWriteAttempts = 3

// Processor 切片任务处理器
type Processor struct {
	jobRepo   *repository.JobRepository
	pricing   *service.PricingService
	slicer    *CLISlicer
	ossClient *oss.Client
	publisher *pubsub.Publisher
	cfg       *config.Config
}

// NewProcessor 创建切片任务处理器，ossClient 可以为 nil（本地存储模式）
func NewProcessor(
	jobRepo *repository.JobRepository,
	pricing *service.PricingService,
	slicer *CLISlicer,
	ossClient *oss.Client,
	publisher *pubsub.Publisher,
	cfg *config.Config,
) *Processor {
	return &Processor{
		jobRepo:   jobRepo,
		pricing:   pricing,
		slicer:    slicer,
		ossClient: ossClient,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Process 处理一条切片任务。分析状态只会走
// NONE -> IN_PROGRESS -> COMPLETED/FAILED，失败后需要重新上传。
func (p *Processor) Process(ctx context.Context, msg *queue.SliceMessage) error {
	job, err := p.jobRepo.GetByID(msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	// 重复投递的消息直接跳过，分析终态不会被覆盖
	if job.SliceStatus.IsTerminal() {
		log.Printf("Job %d: slice status already %s, skipping", job.ID, job.SliceStatus)
		return nil
	}

	// 定义进度推送辅助函数
	publishProgress := func(step, sliceStatus, errMsg string, version int64) {
		p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			JobID:       msg.JobID,
			SliceStatus: sliceStatus,
			Step:        step,
			Error:       errMsg,
			Version:     version,
		})
	}

	// 定义失败处理函数，用户提示入库、原始错误写日志
	handleError := func(step, userMsg string, rawErr error) error {
		log.Printf("Job %d: %s failed: %v", job.ID, step, rawErr)
		p.jobRepo.UpdateFields(job.ID, map[string]interface{}{
			"slice_status":  model.SliceFailed,
			"error_message": userMsg,
		})
		publishProgress(step, string(model.SliceFailed), userMsg, job.Version)
		return rawErr
	}

	// 标记分析进行中
	if err := p.jobRepo.UpdateFields(job.ID, map[string]interface{}{
		"slice_status":  model.SliceInProgress,
		"error_message": "",
	}); err != nil {
		return fmt.Errorf("failed to mark in progress: %w", err)
	}

	// Step 1: 几何分析
	log.Printf("Job %d: analyzing %s", job.ID, msg.Filename)
	publishProgress(pubsub.StepAnalyzing, string(model.SliceInProgress), "", job.Version)

	stats, err := AnalyzeSTL(job.FilePath)
	if err != nil {
		return handleError(pubsub.StepAnalyzing, "模型文件解析失败，请确认为有效的 STL 文件", err)
	}
	if stats.Degenerate {
		log.Printf("Job %d: degenerate mesh, using fallback volume %.1f cm3", job.ID, stats.VolumeCM3)
	}

	// Step 2: 切片（切片器未配置时跳过，仅几何估算）
	var slicedPath, slicedURL string
	var metadata model.Metadata
	if p.slicer.Available() {
		log.Printf("Job %d: slicing", job.ID)
		publishProgress(pubsub.StepSlicing, string(model.SliceInProgress), "", job.Version)

		output, sliceErr := p.slicer.Slice(ctx, job.FilePath, job.ID)
		if sliceErr != nil {
			return handleError(pubsub.StepSlicing, sliceErr.UserMessage, sliceErr.RawError)
		}
		slicedPath = output

		meta, err := ExtractSliceMetadata(slicedPath)
		if err != nil {
			// 元数据不影响报价，解析失败只记日志
			log.Printf("Job %d: failed to extract slice metadata: %v", job.ID, err)
		} else {
			metadata = meta
		}

		// 上传到 OSS 或保留在本地
		if p.ossClient != nil {
			url, err := p.ossClient.UploadSlicedArtifact(job.ID, slicedPath)
			if err != nil {
				return handleError(pubsub.StepSlicing, "切片文件上传失败，请稍后重试", err)
			}
			slicedURL = url
		} else {
			log.Printf("Job %d: sliced artifact kept locally (OSS not configured)", job.ID)
		}
	}

	// Step 3: 计算报价。重新加载任务，用最新的数量和材料定价，写入带版本守卫，
	// 落在重读和写入之间的编辑也不会被旧报价覆盖。
	publishProgress(pubsub.StepPricing, string(model.SliceInProgress), "", job.Version)

	printTime := EstimatePrintTime(stats.VolumeMM3)

	var price float64
	written := false
	for attempt := 0; attempt < priceWriteAttempts; attempt++ {
		latest, err := p.jobRepo.GetByID(job.ID)
		if err != nil {
			return handleError(pubsub.StepPricing, "任务状态读取失败，请稍后重试", err)
		}

		weight := stats.VolumeCM3 * p.pricing.Density(latest.Material)
		price = p.pricing.Quote(latest.Material, latest.Quantity, stats.VolumeCM3)

		fields := map[string]interface{}{
			"slice_status":       model.SliceCompleted,
			"volume_cm3":         stats.VolumeCM3,
			"weight_g":           weight,
			"print_time_seconds": printTime,
			"price":              price,
			"error_message":      "",
		}
		if slicedPath != "" {
			fields["sliced_file_path"] = slicedPath
		}
		if slicedURL != "" {
			fields["sliced_oss_url"] = slicedURL
		}
		if metadata != nil {
			fields["metadata"] = metadata
		}

		ok, err := p.jobRepo.UpdateFieldsFromVersion(job.ID, latest.Version, fields)
		if err != nil {
			return handleError(pubsub.StepPricing, "报价写入失败，请稍后重试", err)
		}
		if ok {
			written = true
			break
		}
		log.Printf("Job %d: price write lost to a concurrent edit, re-pricing", job.ID)
	}
	if !written {
		return handleError(pubsub.StepPricing, "报价写入失败，请稍后重试", fmt.Errorf("version conflict persisted after %d attempts", priceWriteAttempts))
	}

	// 推送完成消息，带上最新版本号供客户端去重
	final, err := p.jobRepo.GetByID(job.ID)
	version := job.Version + 1
	if err == nil {
		version = final.Version
	}
	publishProgress(pubsub.StepDone, string(model.SliceCompleted), "", version)

	log.Printf("Job %d: completed, volume=%.2f cm3, price=%.2f, print_time=%ds",
		job.ID, stats.VolumeCM3, price, printTime)

	return nil
}
