package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Metadata 切片引擎附加的分组元数据（slice_info / project_settings），对控制器透明
type Metadata map[string]map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

type PrintJob struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	Filename    string      `gorm:"size:255;not null" json:"filename"`
	FilePath    string      `gorm:"size:500;not null" json:"-"`
	Status      JobStatus   `gorm:"size:20;default:PENDING;index" json:"status"`
	SliceStatus SliceStatus `gorm:"size:20;default:NONE;index" json:"slice_status"`
	Material    string      `gorm:"size:50;not null" json:"material"`
	Color       string      `gorm:"size:20" json:"color,omitempty"`
	Quantity    int         `gorm:"not null;default:1" json:"quantity"`

	// 切片完成后才有值
	VolumeCM3        *float64 `json:"volume_cm3,omitempty"`
	WeightG          *float64 `json:"weight_g,omitempty"`
	PrintTimeSeconds *int     `json:"print_time_seconds,omitempty"`

	// 价格未知时为 null，绝不会用 0 表示未知
	Price *float64 `json:"price"`

	SlicedFilePath string   `gorm:"size:500" json:"sliced_file_path,omitempty"`
	SlicedOSSURL   string   `gorm:"size:500" json:"sliced_oss_url,omitempty"`
	Metadata       Metadata `gorm:"type:json" json:"metadata,omitempty"`
	ErrorMessage   string   `gorm:"type:text" json:"error_message,omitempty"`

	// 每次成功写入递增，用于客户端去重与丢弃过期响应
	Version int64 `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PrintJob) TableName() string {
	return "print_jobs"
}
