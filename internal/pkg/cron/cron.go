package cron

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/qs3c/print_go_server/internal/repository"
)

type Service struct {
	jobRepo     *repository.JobRepository
	uploadDir   string
	slicedDir   string
	expireHours int
	stopChan    chan struct{}
}

func NewService(
	jobRepo *repository.JobRepository,
	uploadDir string,
	slicedDir string,
	expireHours int,
) *Service {
	return &Service{
		jobRepo:     jobRepo,
		uploadDir:   uploadDir,
		slicedDir:   slicedDir,
		expireHours: expireHours,
		stopChan:    make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runCleanup()
	log.Println("Cron service started (orphan uploads + terminal artifacts cleanup)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runCleanup 每小时执行一次全量清理
func (s *Service) runCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.CleanupAll()
		}
	}
}

// CleanupAll 执行所有清理任务，返回删除的文件数
func (s *Service) CleanupAll() int {
	expireHours := s.expireHours
	if expireHours <= 0 {
		expireHours = 24
	}
	expireDuration := time.Duration(expireHours) * time.Hour

	c1 := s.cleanupOrphanFiles(s.uploadDir, expireDuration)
	c2 := s.cleanupOrphanFiles(s.slicedDir, expireDuration)
	c3 := s.cleanupTerminalArtifacts(expireDuration)

	total := c1 + c2 + c3
	if total > 0 {
		log.Printf("Cleanup summary: orphan uploads=%d, orphan sliced=%d, terminal artifacts=%d", c1, c2, c3)
	}
	return total
}

// cleanupOrphanFiles 删除目录中过期且没有任何任务引用的文件
func (s *Service) cleanupOrphanFiles(dir string, expireDuration time.Duration) int {
	if dir == "" {
		return 0
	}

	referenced, err := s.jobRepo.ListFilePaths()
	if err != nil {
		log.Printf("Cleanup: failed to list referenced paths: %v", err)
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleanup: failed to read dir %s: %v", dir, err)
		}
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if _, ok := referenced[path]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > expireDuration {
			if err := os.Remove(path); err != nil {
				log.Printf("Cleanup: failed to remove %s: %v", path, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}

// cleanupTerminalArtifacts 删除已终结（DONE/REJECTED）且超过保留期的任务文件，
// 数据库记录保留，仅清理磁盘占用
func (s *Service) cleanupTerminalArtifacts(expireDuration time.Duration) int {
	cutoff := time.Now().Add(-expireDuration)
	jobs, err := s.jobRepo.ListTerminalBefore(cutoff)
	if err != nil {
		log.Printf("Cleanup: failed to list terminal jobs: %v", err)
		return 0
	}

	cleaned := 0
	for _, job := range jobs {
		for _, path := range []string{job.FilePath, job.SlicedFilePath} {
			if path == "" {
				continue
			}
			if err := os.Remove(path); err != nil {
				if !os.IsNotExist(err) {
					log.Printf("Cleanup: failed to remove %s for job %d: %v", path, job.ID, err)
				}
				continue
			}
			cleaned++
		}
	}
	return cleaned
}
