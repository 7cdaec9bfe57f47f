package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/model"
	"github.com/qs3c/print_go_server/internal/model/dto"
	"github.com/qs3c/print_go_server/internal/pkg/response"
	"github.com/qs3c/print_go_server/internal/repository"
	"github.com/qs3c/print_go_server/internal/service"
	"github.com/qs3c/print_go_server/internal/testutil"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupJobHandler(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		Upload: config.UploadConfig{
			MaxSize:           10 * 1024 * 1024,
			Dir:               t.TempDir(),
			ExpireHours:       24,
			AllowedExtensions: []string{".stl"},
		},
	}

	jobRepo := repository.NewJobRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	pricing := service.NewPricingService(cfg)
	// 队列为 nil：创建后不投递切片任务，测试只关心 HTTP 行为
	jobService := service.NewJobService(jobRepo, materialRepo, pricing, nil, cfg)
	handler := NewJobHandler(jobService)

	router := gin.New()
	jobs := router.Group("/api/v1/jobs")
	{
		jobs.POST("", handler.Create)
		jobs.GET("", handler.List)
		jobs.GET("/:id/status", handler.GetStatus)
		jobs.GET("/:id/details", handler.GetDetails)
		jobs.PATCH("/:id", handler.Update)
		jobs.POST("/:id/approve", handler.Approve)
		jobs.POST("/:id/pause", handler.Pause)
		jobs.POST("/:id/reject", handler.Reject)
		jobs.POST("/:id/complete", handler.Complete)
	}

	return router, db
}

func multipartJobRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		part.Write(content)
	}
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func patchJSON(t *testing.T, router *gin.Engine, url string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPatch, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func postTo(router *gin.Engine, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, url, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJobHandler_Create(t *testing.T) {
	router, _ := setupJobHandler(t)

	req := multipartJobRequest(t, map[string]string{
		"material": "PLA",
		"color":    "#FFFFFF",
		"quantity": "2",
	}, "bracket.stl", []byte("solid bracket\nendsolid bracket\n"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int            `json:"code"`
		Data model.PrintJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.NotZero(t, resp.Data.ID)
	assert.Equal(t, model.StatusPending, resp.Data.Status)
	assert.Equal(t, "PLA", resp.Data.Material)
	assert.Equal(t, 2, resp.Data.Quantity)
	assert.Nil(t, resp.Data.Price, "price is unknown before analysis")
}

func TestJobHandler_Create_NoFile(t *testing.T) {
	router, _ := setupJobHandler(t)

	req := multipartJobRequest(t, map[string]string{"material": "PLA"}, "", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestJobHandler_Create_BadQuantity(t *testing.T) {
	router, _ := setupJobHandler(t)

	req := multipartJobRequest(t, map[string]string{
		"material": "PLA",
		"quantity": "abc",
	}, "part.stl", []byte("solid part\nendsolid part\n"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestJobHandler_Create_UnknownMaterial(t *testing.T) {
	router, _ := setupJobHandler(t)

	req := multipartJobRequest(t, map[string]string{
		"material": "WOOD",
	}, "part.stl", []byte("solid part\nendsolid part\n"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestJobHandler_GetStatus(t *testing.T) {
	router, db := setupJobHandler(t)

	job := testutil.TestPrintJob(t, db,
		testutil.WithSliceStatus(model.SliceCompleted),
		testutil.WithVolume(3.5),
		testutil.WithPrice(1.25),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int                   `json:"code"`
		Data dto.JobStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, job.ID, resp.Data.JobID)
	assert.Equal(t, "COMPLETED", resp.Data.SliceStatus)
	require.NotNil(t, resp.Data.Price)
	assert.Equal(t, 1.25, *resp.Data.Price)
}

func TestJobHandler_GetStatus_NotFound(t *testing.T) {
	router, _ := setupJobHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/999/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestJobHandler_GetStatus_BadID(t *testing.T) {
	router, _ := setupJobHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-number/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestJobHandler_Update(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db,
		testutil.WithSliceStatus(model.SliceCompleted),
		testutil.WithVolume(1.0),
		testutil.WithQuantity(1),
	)

	w := patchJSON(t, router, "/api/v1/jobs/1", map[string]interface{}{"quantity": 5})

	var resp struct {
		Code int            `json:"code"`
		Data model.PrintJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, 5, resp.Data.Quantity)
	require.NotNil(t, resp.Data.Price, "quantity change reprices against known volume")
	assert.Equal(t, 0.31, *resp.Data.Price)
}

func TestJobHandler_Update_EmptyPatch(t *testing.T) {
	router, db := setupJobHandler(t)

	job := testutil.TestPrintJob(t, db)

	w := patchJSON(t, router, "/api/v1/jobs/1", map[string]interface{}{})

	var resp struct {
		Code int           `json:"code"`
		Data dto.JobDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// 空补丁返回当前快照，版本号不变
	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, job.ID, resp.Data.JobID)
	assert.Equal(t, job.Version, resp.Data.Version)
}

func TestJobHandler_Update_TerminalJob(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db, testutil.WithStatus(model.StatusDone))

	w := patchJSON(t, router, "/api/v1/jobs/1", map[string]interface{}{"quantity": 3})

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeTerminalState, resp.Code)
}

func TestJobHandler_Update_InvalidTransition(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db, testutil.WithStatus(model.StatusPending))

	status := "DONE"
	w := patchJSON(t, router, "/api/v1/jobs/1", dto.UpdateJobRequest{Status: &status})

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeInvalidTransition, resp.Code)
}

func TestJobHandler_Approve(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db,
		testutil.WithStatus(model.StatusPending),
		testutil.WithSliceStatus(model.SliceCompleted),
		testutil.WithVolume(2.0),
		testutil.WithPrice(0.5),
	)

	w := postTo(router, "/api/v1/jobs/1/approve")

	var resp struct {
		Code int            `json:"code"`
		Data model.PrintJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.StatusPaid, resp.Data.Status)
}

func TestJobHandler_Approve_QuoteNotReady(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db,
		testutil.WithStatus(model.StatusPending),
		testutil.WithSliceStatus(model.SliceInProgress),
	)

	w := postTo(router, "/api/v1/jobs/1/approve")

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeInvalidTransition, resp.Code)
}

func TestJobHandler_Approve_Force(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db,
		testutil.WithStatus(model.StatusPending),
		testutil.WithSliceStatus(model.SliceInProgress),
	)

	// force 跳过报价检查，直接开始打印
	w := postTo(router, "/api/v1/jobs/1/approve?force=true")

	var resp struct {
		Code int            `json:"code"`
		Data model.PrintJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.StatusPrinting, resp.Data.Status)
}

func TestJobHandler_PauseRejectComplete(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db, testutil.WithStatus(model.StatusPrinting))

	w := postTo(router, "/api/v1/jobs/1/pause")
	var resp struct {
		Code int            `json:"code"`
		Data model.PrintJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.StatusPaid, resp.Data.Status)

	w = postTo(router, "/api/v1/jobs/1/reject")
	resp.Data = model.PrintJob{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.StatusRejected, resp.Data.Status)

	// 终态后一切操作被拒
	w = postTo(router, "/api/v1/jobs/1/complete")
	envelope := parseEnvelope(t, w)
	assert.Equal(t, response.CodeTerminalState, envelope.Code)
}

func TestJobHandler_List(t *testing.T) {
	router, db := setupJobHandler(t)

	testutil.TestPrintJob(t, db, testutil.WithStatus(model.StatusPending))
	testutil.TestPrintJob(t, db, testutil.WithStatus(model.StatusPrinting))
	testutil.TestPrintJob(t, db, testutil.WithStatus(model.StatusPending))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=PENDING", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Code int                `json:"code"`
		Data []*dto.JobListItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Len(t, resp.Data, 2)
}

func TestJobHandler_List_BadStatus(t *testing.T) {
	router, _ := setupJobHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=BOGUS", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseEnvelope(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}
