package service

import (
	"github.com/qs3c/print_go_server/internal/model"
	"github.com/qs3c/print_go_server/internal/repository"
)

// MaterialService 耗材目录
type MaterialService struct {
	materialRepo *repository.MaterialRepository
}

func NewMaterialService(materialRepo *repository.MaterialRepository) *MaterialService {
	return &MaterialService{materialRepo: materialRepo}
}

// defaultMaterials 初始耗材目录
var defaultMaterials = []model.Material{
	{Name: "PLA Basic Red", Type: "PLA", Brand: "Generic", Color: "Red", HexColor: "#ff0000", Density: 1.24, CostPerGram: 0.05, StockWeightG: 1000},
	{Name: "PLA Basic Blue", Type: "PLA", Brand: "Generic", Color: "Blue", HexColor: "#0000ff", Density: 1.24, CostPerGram: 0.05, StockWeightG: 1000},
	{Name: "PLA Basic White", Type: "PLA", Brand: "Generic", Color: "White", HexColor: "#ffffff", Density: 1.24, CostPerGram: 0.05, StockWeightG: 1000},
	{Name: "PLA Basic Black", Type: "PLA", Brand: "Generic", Color: "Black", HexColor: "#000000", Density: 1.24, CostPerGram: 0.05, StockWeightG: 1000},
	{Name: "PETG Strong Transparent", Type: "PETG", Brand: "Generic", Color: "Transparent", HexColor: "#cccccc", Density: 1.27, CostPerGram: 0.06, StockWeightG: 1000},
	{Name: "PETG Strong Black", Type: "PETG", Brand: "Generic", Color: "Black", HexColor: "#000000", Density: 1.27, CostPerGram: 0.06, StockWeightG: 1000},
}

// EnsureDefaults 目录为空时写入默认耗材
func (s *MaterialService) EnsureDefaults() error {
	count, err := s.materialRepo.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for i := range defaultMaterials {
		m := defaultMaterials[i]
		if err := s.materialRepo.Create(&m); err != nil {
			return err
		}
	}
	return nil
}

// List 全部耗材
func (s *MaterialService) List() ([]*model.Material, error) {
	return s.materialRepo.List()
}
