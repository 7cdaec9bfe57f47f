package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/print_go_server/internal/model/dto"
	"github.com/qs3c/print_go_server/internal/pkg/response"
	"github.com/qs3c/print_go_server/internal/service"
)

type JobHandler struct {
	jobService *service.JobService
}

func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// Create 上传模型并创建打印任务
// POST /api/v1/jobs  (multipart/form-data: file, material, color, quantity)
func (h *JobHandler) Create(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "请提供模型文件")
		return
	}

	material := c.PostForm("material")
	color := c.PostForm("color")
	quantity := 1
	if q := c.PostForm("quantity"); q != "" {
		quantity, err = strconv.Atoi(q)
		if err != nil {
			response.ParamError(c, "数量必须是整数")
			return
		}
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.ServerError(c, "")
		return
	}
	defer src.Close()

	job, err := h.jobService.Create(c.Request.Context(), src, fileHeader.Filename, material, color, quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity),
			errors.Is(err, service.ErrUnknownMaterial),
			errors.Is(err, service.ErrInvalidFormat),
			errors.Is(err, service.ErrFileTooLarge):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "任务已创建，切片分析进行中", job)
}

// GetStatus 轮询任务状态
// GET /api/v1/jobs/:id/status
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	status, err := h.jobService.GetStatus(jobID)
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.Success(c, status)
}

// GetDetails 任务详情
// GET /api/v1/jobs/:id/details
func (h *JobHandler) GetDetails(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	detail, err := h.jobService.GetDetails(jobID)
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.Success(c, detail)
}

// Update 部分更新任务（数量、材料、颜色、状态）
// PATCH /api/v1/jobs/:id
func (h *JobHandler) Update(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if req.IsEmpty() {
		// 空补丁不产生任何修改，直接返回当前快照
		detail, err := h.jobService.GetDetails(jobID)
		if err != nil {
			respondJobError(c, err)
			return
		}
		response.Success(c, detail)
		return
	}

	job, err := h.jobService.Update(jobID, &req)
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.SuccessWithMessage(c, "更新成功", job)
}

// Approve 批准任务：有报价时 PENDING -> PAID，已支付时 PAID -> PRINTING。
// force=true 时允许跳过报价直接开始打印。
// POST /api/v1/jobs/:id/approve?force=true
func (h *JobHandler) Approve(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	force := c.Query("force") == "true"

	job, err := h.jobService.Approve(jobID, force)
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.SuccessWithMessage(c, "操作成功", job)
}

// Pause 暂停打印，任务回到已支付队列
// POST /api/v1/jobs/:id/pause
func (h *JobHandler) Pause(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	job, err := h.jobService.Pause(jobID)
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已暂停", job)
}

// Reject 拒绝任务，终态
// POST /api/v1/jobs/:id/reject
func (h *JobHandler) Reject(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	job, err := h.jobService.Reject(jobID)
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已拒绝", job)
}

// Complete 打印完成，终态
// POST /api/v1/jobs/:id/complete
func (h *JobHandler) Complete(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	job, err := h.jobService.Complete(jobID)
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已完成", job)
}

// List 任务列表，可按状态过滤
// GET /api/v1/jobs?status=PENDING
func (h *JobHandler) List(c *gin.Context) {
	items, err := h.jobService.List(c.Query("status"))
	if err != nil {
		respondJobError(c, err)
		return
	}

	response.Success(c, items)
}

// DownloadModel 下载原始模型文件
// GET /api/v1/jobs/:id/model
func (h *JobHandler) DownloadModel(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	path, err := h.jobService.ModelFilePath(jobID)
	if err != nil {
		respondJobError(c, err)
		return
	}

	c.FileAttachment(path, "model_"+c.Param("id")+".stl")
}

// DownloadSliced 下载切片产物，产物缺失时回退到原始模型
// GET /api/v1/jobs/:id/sliced
func (h *JobHandler) DownloadSliced(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	path, fallback, err := h.jobService.SlicedFilePath(jobID)
	if err != nil {
		respondJobError(c, err)
		return
	}

	name := "job_" + c.Param("id") + ".3mf"
	if fallback {
		name = "model_" + c.Param("id") + ".stl"
	}
	c.FileAttachment(path, name)
}

func parseJobID(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || jobID <= 0 {
		response.ParamError(c, "无效的任务ID")
		return 0, false
	}
	return jobID, true
}

// respondJobError 将服务层错误映射为统一错误码
func respondJobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrTerminalState):
		response.TerminalStateError(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrQuoteNotReady):
		response.InvalidTransitionError(c, err.Error())
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrUnknownMaterial),
		errors.Is(err, service.ErrInvalidStatus):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}
