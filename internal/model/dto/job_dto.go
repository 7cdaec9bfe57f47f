package dto

// UpdateJobRequest PATCH 部分更新，nil 字段不修改
type UpdateJobRequest struct {
	Quantity *int    `json:"quantity,omitempty"`
	Material *string `json:"material,omitempty"`
	Color    *string `json:"color,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// IsEmpty 没有任何字段时返回 true
func (r *UpdateJobRequest) IsEmpty() bool {
	return r.Quantity == nil && r.Material == nil && r.Color == nil && r.Status == nil
}

// JobStatusResponse 轮询用的轻量状态快照
type JobStatusResponse struct {
	JobID        int64    `json:"job_id"`
	Status       string   `json:"status"`
	SliceStatus  string   `json:"slice_status"`
	VolumeCM3    *float64 `json:"volume_cm3,omitempty"`
	Price        *float64 `json:"price"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Version      int64    `json:"version"`
}

// JobDetail 详情快照，包含切片元数据
type JobDetail struct {
	JobID            int64                        `json:"job_id"`
	Filename         string                       `json:"filename"`
	Status           string                       `json:"status"`
	SliceStatus      string                       `json:"slice_status"`
	Material         string                       `json:"material"`
	Color            string                       `json:"color,omitempty"`
	Quantity         int                          `json:"quantity"`
	VolumeCM3        *float64                     `json:"volume_cm3,omitempty"`
	WeightG          *float64                     `json:"weight_g,omitempty"`
	PrintTimeSeconds *int                         `json:"print_time_seconds,omitempty"`
	Price            *float64                     `json:"price"`
	SlicedFilePath   string                       `json:"sliced_file_path,omitempty"`
	SlicedOSSURL     string                       `json:"sliced_oss_url,omitempty"`
	Metadata         map[string]map[string]string `json:"metadata,omitempty"`
	ErrorMessage     string                       `json:"error_message,omitempty"`
	Version          int64                        `json:"version"`
	CreatedAt        string                       `json:"created_at"`
	UpdatedAt        string                       `json:"updated_at"`
}

// JobListItem 运营控制台列表项
type JobListItem struct {
	JobID       int64    `json:"job_id"`
	Filename    string   `json:"filename"`
	Status      string   `json:"status"`
	SliceStatus string   `json:"slice_status"`
	Material    string   `json:"material"`
	Quantity    int      `json:"quantity"`
	Price       *float64 `json:"price"`
	CreatedAt   string   `json:"created_at"`
}
