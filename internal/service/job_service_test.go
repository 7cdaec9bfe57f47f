package service

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/model"
	"github.com/qs3c/print_go_server/internal/model/dto"
	"github.com/qs3c/print_go_server/internal/repository"
	"github.com/qs3c/print_go_server/internal/testutil"
)

func setupJobService(t *testing.T) (*JobService, *repository.JobRepository, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	jobRepo := repository.NewJobRepository(db)
	materialRepo := repository.NewMaterialRepository(db)

	cfg := &config.Config{
		Upload: config.UploadConfig{
			MaxSize:           1 << 20,
			Dir:               t.TempDir(),
			AllowedExtensions: []string{".stl"},
		},
	}

	pricing := NewPricingService(cfg)
	service := NewJobService(jobRepo, materialRepo, pricing, nil, cfg)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return service, jobRepo, cleanup
}

func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestJobService_Create(t *testing.T) {
	service, _, cleanup := setupJobService(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		job, err := service.Create(ctx, bytes.NewReader([]byte("solid test")), "bracket.stl", "PLA", "Red", 2)
		require.NoError(t, err)

		assert.Equal(t, model.StatusPending, job.Status)
		assert.Equal(t, model.SliceNone, job.SliceStatus)
		assert.Equal(t, "PLA", job.Material)
		assert.Equal(t, 2, job.Quantity)
		assert.Nil(t, job.Price, "price must be null until slicing completes")
		assert.FileExists(t, job.FilePath)
	})

	t.Run("material normalized to upper case", func(t *testing.T) {
		job, err := service.Create(ctx, bytes.NewReader([]byte("solid test")), "a.stl", "petg", "", 1)
		require.NoError(t, err)
		assert.Equal(t, "PETG", job.Material)
	})

	t.Run("invalid quantity", func(t *testing.T) {
		_, err := service.Create(ctx, bytes.NewReader(nil), "a.stl", "PLA", "", 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)

		_, err = service.Create(ctx, bytes.NewReader(nil), "a.stl", "PLA", "", -3)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("unknown material", func(t *testing.T) {
		_, err := service.Create(ctx, bytes.NewReader(nil), "a.stl", "WOOD", "", 1)
		assert.ErrorIs(t, err, ErrUnknownMaterial)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := service.Create(ctx, bytes.NewReader(nil), "a.obj", "PLA", "", 1)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("file too large", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), (1<<20)+1)
		_, err := service.Create(ctx, bytes.NewReader(big), "big.stl", "PLA", "", 1)
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})
}

func TestJobService_Update_Reprice(t *testing.T) {
	service, _, cleanup := setupJobService(t)
	defer cleanup()

	db := service.jobRepo

	t.Run("quantity change reprices from last known volume", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "a.stl", FilePath: "/tmp/a.stl",
			Status: model.StatusPending, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 1,
			VolumeCM3: floatPtr(10), Price: floatPtr(0.62),
		}
		require.NoError(t, db.Create(job))

		updated, err := service.Update(job.ID, &dto.UpdateJobRequest{Quantity: intPtr(5)})
		require.NoError(t, err)

		assert.Equal(t, 5, updated.Quantity)
		require.NotNil(t, updated.Price)
		assert.Equal(t, 3.1, *updated.Price) // 5 * 10 * 0.062
		assert.Greater(t, updated.Version, job.Version)
	})

	t.Run("material change reprices", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "b.stl", FilePath: "/tmp/b.stl",
			Status: model.StatusPending, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 1,
			VolumeCM3: floatPtr(100), Price: floatPtr(6.2),
		}
		require.NoError(t, db.Create(job))

		updated, err := service.Update(job.ID, &dto.UpdateJobRequest{Material: strPtr("TPU")})
		require.NoError(t, err)

		assert.Equal(t, "TPU", updated.Material)
		require.NotNil(t, updated.Price)
		assert.Equal(t, 12.1, *updated.Price) // 100 * 1.21 * 0.10
	})

	t.Run("no volume yet keeps price undefined", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "c.stl", FilePath: "/tmp/c.stl",
			Status: model.StatusPending, SliceStatus: model.SliceInProgress,
			Material: "PLA", Quantity: 1,
		}
		require.NoError(t, db.Create(job))

		updated, err := service.Update(job.ID, &dto.UpdateJobRequest{Quantity: intPtr(3)})
		require.NoError(t, err)

		assert.Equal(t, 3, updated.Quantity)
		assert.Nil(t, updated.Price, "price stays null until volume is known")
	})

	t.Run("failed slicing still allows edits", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "e.stl", FilePath: "/tmp/e.stl",
			Status: model.StatusPending, SliceStatus: model.SliceFailed,
			Material: "PLA", Quantity: 1,
			ErrorMessage: "模型存在几何缺陷，无法切片，请修复后重新上传",
		}
		require.NoError(t, db.Create(job))

		// 分析失败只终结分析轴，订单本身仍可编辑
		updated, err := service.Update(job.ID, &dto.UpdateJobRequest{Quantity: intPtr(4)})
		require.NoError(t, err)

		assert.Equal(t, 4, updated.Quantity)
		assert.Nil(t, updated.Price)
	})

	t.Run("color change does not reprice", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "d.stl", FilePath: "/tmp/d.stl",
			Status: model.StatusPending, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 1,
			VolumeCM3: floatPtr(10), Price: floatPtr(0.62),
		}
		require.NoError(t, db.Create(job))

		updated, err := service.Update(job.ID, &dto.UpdateJobRequest{Color: strPtr("Blue")})
		require.NoError(t, err)

		assert.Equal(t, "Blue", updated.Color)
		assert.Equal(t, 0.62, *updated.Price)
	})
}

func TestJobService_Update_Validation(t *testing.T) {
	service, jobRepo, cleanup := setupJobService(t)
	defer cleanup()

	t.Run("invalid quantity rejected without mutation", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "a.stl", FilePath: "/tmp/a.stl",
			Status: model.StatusPending, Material: "PLA", Quantity: 2,
		}
		require.NoError(t, jobRepo.Create(job))

		// 数量非法时，同一补丁里的合法材料修改也不能生效
		_, err := service.Update(job.ID, &dto.UpdateJobRequest{
			Quantity: intPtr(0),
			Material: strPtr("PETG"),
		})
		assert.ErrorIs(t, err, ErrInvalidQuantity)

		reloaded, err := jobRepo.GetByID(job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, reloaded.Quantity)
		assert.Equal(t, "PLA", reloaded.Material)
	})

	t.Run("unknown material rejected", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		_, err := service.Update(job.ID, &dto.UpdateJobRequest{Material: strPtr("WOOD")})
		assert.ErrorIs(t, err, ErrUnknownMaterial)
	})

	t.Run("illegal status transition rejected", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		_, err := service.Update(job.ID, &dto.UpdateJobRequest{Status: strPtr("DONE")})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown status value rejected", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		_, err := service.Update(job.ID, &dto.UpdateJobRequest{Status: strPtr("CANCELLED")})
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("advance to paid without quote rejected", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		_, err := service.Update(job.ID, &dto.UpdateJobRequest{Status: strPtr("PAID")})
		assert.ErrorIs(t, err, ErrQuoteNotReady)

		reloaded, err := jobRepo.GetByID(job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, reloaded.Status)
	})

	t.Run("printing jump reserved for force approval", func(t *testing.T) {
		// 即使报价已生成，PENDING -> PRINTING 也只能走管理员 force 批准
		job := &model.PrintJob{
			Filename: "f.stl", FilePath: "/tmp/f.stl",
			Status: model.StatusPending, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 1,
			VolumeCM3: floatPtr(10), Price: floatPtr(0.62),
		}
		require.NoError(t, jobRepo.Create(job))

		_, err := service.Update(job.ID, &dto.UpdateJobRequest{Status: strPtr("PRINTING")})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("advance to paid with quote succeeds", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "g.stl", FilePath: "/tmp/g.stl",
			Status: model.StatusPending, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 1,
			VolumeCM3: floatPtr(10), Price: floatPtr(0.62),
		}
		require.NoError(t, jobRepo.Create(job))

		updated, err := service.Update(job.ID, &dto.UpdateJobRequest{Status: strPtr("PAID")})
		require.NoError(t, err)
		assert.Equal(t, model.StatusPaid, updated.Status)
	})

	t.Run("terminal job rejects any edit", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusDone)
		_, err := service.Update(job.ID, &dto.UpdateJobRequest{Quantity: intPtr(3)})
		assert.ErrorIs(t, err, ErrTerminalState)

		job = testJob(t, jobRepo, model.StatusRejected)
		_, err = service.Update(job.ID, &dto.UpdateJobRequest{Color: strPtr("Red")})
		assert.ErrorIs(t, err, ErrTerminalState)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := service.Update(99999, &dto.UpdateJobRequest{Quantity: intPtr(1)})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobService_Approve(t *testing.T) {
	service, jobRepo, cleanup := setupJobService(t)
	defer cleanup()

	t.Run("pending with quote goes to paid", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "a.stl", FilePath: "/tmp/a.stl",
			Status: model.StatusPending, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 1,
			VolumeCM3: floatPtr(10), Price: floatPtr(0.62),
		}
		require.NoError(t, jobRepo.Create(job))

		updated, err := service.Approve(job.ID, false)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPaid, updated.Status)
	})

	t.Run("pending without quote rejected", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		_, err := service.Approve(job.ID, false)
		assert.ErrorIs(t, err, ErrQuoteNotReady)
	})

	t.Run("force skips quote and starts printing", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		updated, err := service.Approve(job.ID, true)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPrinting, updated.Status)
	})

	t.Run("paid goes to printing", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPaid)
		updated, err := service.Approve(job.ID, false)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPrinting, updated.Status)
	})

	t.Run("terminal job rejected", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusDone)
		_, err := service.Approve(job.ID, false)
		assert.ErrorIs(t, err, ErrTerminalState)
	})

	t.Run("printing job rejected", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPrinting)
		_, err := service.Approve(job.ID, false)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestJobService_Approve_Concurrent(t *testing.T) {
	service, jobRepo, cleanup := setupJobService(t)
	defer cleanup()

	job := &model.PrintJob{
		Filename: "a.stl", FilePath: "/tmp/a.stl",
		Status: model.StatusPaid, SliceStatus: model.SliceCompleted,
		Material: "PLA", Quantity: 1,
		VolumeCM3: floatPtr(10), Price: floatPtr(0.62),
	}
	require.NoError(t, jobRepo.Create(job))

	// 两个运营同时点批准，只能有一个成功
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = service.Approve(job.ID, false)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one approval must win")

	reloaded, err := jobRepo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPrinting, reloaded.Status)
}

func TestJobService_PauseRejectComplete(t *testing.T) {
	service, jobRepo, cleanup := setupJobService(t)
	defer cleanup()

	t.Run("pause returns printing job to paid", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPrinting)
		updated, err := service.Pause(job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPaid, updated.Status)
	})

	t.Run("pause requires printing", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		_, err := service.Pause(job.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("reject from pending", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		updated, err := service.Reject(job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, updated.Status)
	})

	t.Run("reject from paid", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPaid)
		updated, err := service.Reject(job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, updated.Status)
	})

	t.Run("cannot reject printing job", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPrinting)
		_, err := service.Reject(job.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("complete from printing", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPrinting)
		updated, err := service.Complete(job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDone, updated.Status)
	})

	t.Run("terminal stays terminal", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusRejected)
		_, err := service.Complete(job.ID)
		assert.ErrorIs(t, err, ErrTerminalState)
		_, err = service.Pause(job.ID)
		assert.ErrorIs(t, err, ErrTerminalState)
	})
}

func TestJobService_GetStatus(t *testing.T) {
	service, jobRepo, cleanup := setupJobService(t)
	defer cleanup()

	t.Run("snapshot fields", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "a.stl", FilePath: "/tmp/a.stl",
			Status: model.StatusPending, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 2,
			VolumeCM3: floatPtr(12.5), Price: floatPtr(1.55),
		}
		require.NoError(t, jobRepo.Create(job))

		snap, err := service.GetStatus(job.ID)
		require.NoError(t, err)

		assert.Equal(t, job.ID, snap.JobID)
		assert.Equal(t, "PENDING", snap.Status)
		assert.Equal(t, "COMPLETED", snap.SliceStatus)
		assert.Equal(t, 1.55, *snap.Price)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := service.GetStatus(99999)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobService_List(t *testing.T) {
	service, jobRepo, cleanup := setupJobService(t)
	defer cleanup()

	testJob(t, jobRepo, model.StatusPending)
	testJob(t, jobRepo, model.StatusPending)
	testJob(t, jobRepo, model.StatusPrinting)

	all, err := service.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := service.List("pending")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = service.List("NOPE")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestJobService_SlicedFilePath_Fallback(t *testing.T) {
	service, jobRepo, cleanup := setupJobService(t)
	defer cleanup()

	t.Run("completed slice returns artifact", func(t *testing.T) {
		job := &model.PrintJob{
			Filename: "a.stl", FilePath: "/tmp/a.stl",
			Status: model.StatusPaid, SliceStatus: model.SliceCompleted,
			Material: "PLA", Quantity: 1,
			SlicedFilePath: "/tmp/sliced/job_1.3mf",
		}
		require.NoError(t, jobRepo.Create(job))

		path, fallback, err := service.SlicedFilePath(job.ID)
		require.NoError(t, err)
		assert.False(t, fallback)
		assert.Equal(t, "/tmp/sliced/job_1.3mf", path)
	})

	t.Run("missing artifact falls back to original", func(t *testing.T) {
		job := testJob(t, jobRepo, model.StatusPending)
		path, fallback, err := service.SlicedFilePath(job.ID)
		require.NoError(t, err)
		assert.True(t, fallback)
		assert.Equal(t, job.FilePath, path)
	})
}

func TestJobService_SaveModelFile_Cleanup(t *testing.T) {
	service, _, cleanup := setupJobService(t)
	defer cleanup()

	// 超限文件不应留下残留
	big := bytes.Repeat([]byte("x"), int(service.cfg.Upload.MaxSize)+1)
	_, err := service.Create(context.Background(), bytes.NewReader(big), "big.stl", "PLA", "", 1)
	require.ErrorIs(t, err, ErrFileTooLarge)

	entries, err := os.ReadDir(service.cfg.Upload.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "oversized upload must be removed")
}

func testJob(t *testing.T, repo *repository.JobRepository, status model.JobStatus) *model.PrintJob {
	t.Helper()

	job := &model.PrintJob{
		Filename: "test.stl", FilePath: "/tmp/test.stl",
		Status: status, SliceStatus: model.SliceNone,
		Material: "PLA", Quantity: 1,
	}
	require.NoError(t, repo.Create(job))
	return job
}
