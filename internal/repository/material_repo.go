package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/print_go_server/internal/model"
)

type MaterialRepository struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

func (r *MaterialRepository) Create(m *model.Material) error {
	return r.db.Create(m).Error
}

func (r *MaterialRepository) GetByName(name string) (*model.Material, error) {
	var m model.Material
	err := r.db.Where("name = ?", name).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MaterialRepository) List() ([]*model.Material, error) {
	var materials []*model.Material
	err := r.db.Order("name ASC").Find(&materials).Error
	return materials, err
}

func (r *MaterialRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.Material{}).Count(&count).Error
	return count, err
}

// DeductStockByType 按材料类型扣减库存重量（克），开始打印时调用
func (r *MaterialRepository) DeductStockByType(matType string, grams float64) error {
	return r.db.Model(&model.Material{}).
		Where("type = ?", matType).
		Update("stock_weight_g", gorm.Expr("stock_weight_g - ?", grams)).Error
}
