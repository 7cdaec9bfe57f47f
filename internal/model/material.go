package model

import "time"

// Material 耗材目录，密度与克单价供展示与校验使用
type Material struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Type         string    `gorm:"size:20;not null" json:"type"` // PLA, PETG, ABS, TPU
	Brand        string    `gorm:"size:100;default:Generic" json:"brand"`
	Color        string    `gorm:"size:50" json:"color,omitempty"`
	HexColor     string    `gorm:"size:10" json:"hex_color,omitempty"`
	Density      float64   `gorm:"not null" json:"density"`       // g/cm3
	CostPerGram  float64   `gorm:"not null" json:"cost_per_gram"` // 元/g
	StockWeightG float64   `gorm:"default:1000" json:"stock_weight_g"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Material) TableName() string {
	return "materials"
}
