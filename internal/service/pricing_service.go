package service

import (
	"math"
	"strings"

	"github.com/qs3c/print_go_server/config"
)

// defaultRates 内置材料表，配置未覆盖时使用
var defaultRates = map[string]config.MaterialRate{
	"PLA":  {Density: 1.24, CostPerGram: 0.05},
	"PETG": {Density: 1.27, CostPerGram: 0.06},
	"ABS":  {Density: 1.04, CostPerGram: 0.05},
	"TPU":  {Density: 1.21, CostPerGram: 0.10},
}

// PricingService 纯报价计算，无任何网络或存储访问。
// 首次报价和编辑改价必须走同一个入口，保证相同输入产出相同价格。
type PricingService struct {
	rates map[string]config.MaterialRate
}

func NewPricingService(cfg *config.Config) *PricingService {
	rates := make(map[string]config.MaterialRate, len(defaultRates))
	for name, rate := range defaultRates {
		rates[name] = rate
	}
	if cfg != nil {
		for name, rate := range cfg.Pricing.Materials {
			rates[strings.ToUpper(name)] = rate
		}
	}
	return &PricingService{rates: rates}
}

// KnownMaterial 材料是否在报价表中
func (s *PricingService) KnownMaterial(material string) bool {
	_, ok := s.rates[strings.ToUpper(material)]
	return ok
}

// Rate 材料的综合费率（密度 × 克单价），即每 cm3 的单价
func (s *PricingService) Rate(material string) float64 {
	rate, ok := s.rates[strings.ToUpper(material)]
	if !ok {
		rate = defaultRates["PLA"]
	}
	return rate.Density * rate.CostPerGram
}

// Density 材料密度 g/cm3
func (s *PricingService) Density(material string) float64 {
	rate, ok := s.rates[strings.ToUpper(material)]
	if !ok {
		rate = defaultRates["PLA"]
	}
	return rate.Density
}

// Quote 报价：数量 × 体积 × 费率，只在最后一步做一次四舍五入到分
func (s *PricingService) Quote(material string, quantity int, volumeCM3 float64) float64 {
	total := float64(quantity) * volumeCM3 * s.Rate(material)
	return math.Round(total*100) / 100
}
