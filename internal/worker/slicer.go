package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/print_go_server/config"
)

// SliceError 切片错误，包含用户友好消息和原始错误
type SliceError struct {
	UserMessage string // 中文，给用户看
	RawError    error  // 原始错误，写日志
}

func (e *SliceError) Error() string {
	return e.UserMessage
}

func (e *SliceError) Unwrap() error {
	return e.RawError
}

// Slicer 外部切片引擎，输入模型文件，产出 .3mf 切片包
type Slicer interface {
	Slice(ctx context.Context, modelPath string, jobID int64) (string, *SliceError)
}

// CLISlicer 调用 Bambu Studio 风格的命令行切片器
type CLISlicer struct {
	cfg *config.SlicerConfig
}

func NewCLISlicer(cfg *config.SlicerConfig) *CLISlicer {
	return &CLISlicer{cfg: cfg}
}

// Available 切片器是否已配置。未配置时只做几何估算，不产出切片包。
func (s *CLISlicer) Available() bool {
	return s.cfg.Path != ""
}

// Slice 执行切片，返回 .3mf 产物路径
func (s *CLISlicer) Slice(ctx context.Context, modelPath string, jobID int64) (string, *SliceError) {
	outputDir := s.cfg.OutputDir
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", &SliceError{
			UserMessage: "切片失败，请稍后重试",
			RawError:    fmt.Errorf("create output dir: %w", err),
		}
	}

	outputPath := filepath.Join(outputDir, fmt.Sprintf("job_%d.3mf", jobID))

	timeout := time.Duration(s.cfg.TimeoutSeconds) * time.Second
	sliceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--slice", "0", "--export-3mf", outputPath}
	if s.cfg.ProfilePath != "" {
		args = append(args, "--load-settings", s.cfg.ProfilePath)
	}
	args = append(args, modelPath)

	cmd := exec.CommandContext(sliceCtx, s.cfg.Path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		if sliceCtx.Err() == context.DeadlineExceeded {
			return "", &SliceError{
				UserMessage: "切片超时，模型可能过于复杂",
				RawError:    fmt.Errorf("slicer timed out after %s: %w, output: %s", timeout, err, output),
			}
		}
		return "", classifySliceError(string(output), err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", &SliceError{
			UserMessage: "切片失败，未生成切片文件",
			RawError:    fmt.Errorf("slicer exited ok but output missing: %w, output: %s", err, output),
		}
	}

	return outputPath, nil
}

// classifySliceError 根据切片器输出分类错误，返回中文用户提示
func classifySliceError(output string, err error) *SliceError {
	lower := strings.ToLower(output + " " + err.Error())

	switch {
	case strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "cannot open") ||
		strings.Contains(lower, "not found"):
		return &SliceError{
			UserMessage: "模型文件无法读取，请重新上传",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	case strings.Contains(lower, "not manifold") ||
		strings.Contains(lower, "non-manifold") ||
		strings.Contains(lower, "invalid mesh") ||
		strings.Contains(lower, "empty mesh"):
		return &SliceError{
			UserMessage: "模型存在几何缺陷，无法切片，请修复后重新上传",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	case strings.Contains(lower, "out of bed") ||
		strings.Contains(lower, "exceeds") ||
		strings.Contains(lower, "too large"):
		return &SliceError{
			UserMessage: "模型超出打印尺寸范围",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	default:
		return &SliceError{
			UserMessage: "切片失败，请稍后重试",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	}
}
