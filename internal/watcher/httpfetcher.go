package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qs3c/print_go_server/internal/model"
	"github.com/qs3c/print_go_server/internal/model/dto"
	"github.com/qs3c/print_go_server/internal/pkg/response"
)

// HTTPFetcher 通过状态接口远程轮询，供不在服务进程内的观察者使用
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, jobID int64) (*Snapshot, error) {
	url := fmt.Sprintf("%s/api/v1/jobs/%d/status", f.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned HTTP %d", resp.StatusCode)
	}

	var envelope struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Data    *dto.JobStatusResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if envelope.Code != response.CodeSuccess || envelope.Data == nil {
		return nil, fmt.Errorf("status endpoint error %d: %s", envelope.Code, envelope.Message)
	}

	return &Snapshot{
		JobID:        envelope.Data.JobID,
		Status:       model.JobStatus(envelope.Data.Status),
		SliceStatus:  model.SliceStatus(envelope.Data.SliceStatus),
		VolumeCM3:    envelope.Data.VolumeCM3,
		Price:        envelope.Data.Price,
		ErrorMessage: envelope.Data.ErrorMessage,
		Version:      envelope.Data.Version,
	}, nil
}
