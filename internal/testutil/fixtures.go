package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/print_go_server/internal/model"
)

// TestPrintJob 创建测试打印任务
func TestPrintJob(t *testing.T, db *gorm.DB, opts ...func(*model.PrintJob)) *model.PrintJob {
	t.Helper()

	job := &model.PrintJob{
		Filename:    fmt.Sprintf("model_%d.stl", time.Now().UnixNano()%10000),
		FilePath:    fmt.Sprintf("/tmp/uploads/test_%d.stl", time.Now().UnixNano()),
		Status:      model.StatusPending,
		SliceStatus: model.SliceNone,
		Material:    "PLA",
		Quantity:    1,
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test print job: %v", err)
	}

	return job
}

// WithStatus 设置订单状态
func WithStatus(status model.JobStatus) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.Status = status
	}
}

// WithSliceStatus 设置分析状态
func WithSliceStatus(status model.SliceStatus) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.SliceStatus = status
	}
}

// WithMaterial 设置材料
func WithMaterial(material string) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.Material = material
	}
}

// WithQuantity 设置数量
func WithQuantity(quantity int) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.Quantity = quantity
	}
}

// WithVolume 设置体积并按 PLA 默认费率给出价格
func WithVolume(volumeCM3 float64) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.VolumeCM3 = &volumeCM3
	}
}

// WithPrice 设置价格
func WithPrice(price float64) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.Price = &price
	}
}

// WithWeight 设置重量
func WithWeight(weightG float64) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.WeightG = &weightG
	}
}

// WithFilePath 设置模型文件路径
func WithFilePath(path string) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.FilePath = path
	}
}

// WithSlicedFile 设置切片产物路径
func WithSlicedFile(path string) func(*model.PrintJob) {
	return func(j *model.PrintJob) {
		j.SlicedFilePath = path
	}
}

// TestMaterial 创建测试耗材
func TestMaterial(t *testing.T, db *gorm.DB, opts ...func(*model.Material)) *model.Material {
	t.Helper()

	material := &model.Material{
		Name:         fmt.Sprintf("PLA Test %d", time.Now().UnixNano()),
		Type:         "PLA",
		Brand:        "Generic",
		Color:        "White",
		HexColor:     "#ffffff",
		Density:      1.24,
		CostPerGram:  0.05,
		StockWeightG: 1000,
	}

	for _, opt := range opts {
		opt(material)
	}

	if err := db.Create(material).Error; err != nil {
		t.Fatalf("Failed to create test material: %v", err)
	}

	return material
}

// WithMaterialType 设置耗材类型
func WithMaterialType(matType string) func(*model.Material) {
	return func(m *model.Material) {
		m.Type = matType
	}
}

// WithStock 设置库存克数
func WithStock(grams float64) func(*model.Material) {
	return func(m *model.Material) {
		m.StockWeightG = grams
	}
}
