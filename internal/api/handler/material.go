package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/print_go_server/internal/pkg/response"
	"github.com/qs3c/print_go_server/internal/service"
)

type MaterialHandler struct {
	materialService *service.MaterialService
}

func NewMaterialHandler(materialService *service.MaterialService) *MaterialHandler {
	return &MaterialHandler{
		materialService: materialService,
	}
}

// List 耗材目录
// GET /api/v1/materials
func (h *MaterialHandler) List(c *gin.Context) {
	materials, err := h.materialService.List()
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, materials)
}
