package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/model"
)

var (
	dryRun        = flag.Bool("dry-run", true, "Dry run mode, don't actually delete files")
	uploadExpire  = flag.Int("upload-expire", 24, "Hours to keep orphan uploaded models")
	artifactKeep  = flag.Int("artifact-keep", 7, "Days to keep files of DONE/REJECTED jobs")
	cleanUploads  = flag.Bool("clean-uploads", true, "Clean orphan upload files")
	cleanTerminal = flag.Bool("clean-terminal", true, "Clean files of terminal jobs")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := connectDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	totalSize := int64(0)
	deletedSize := int64(0)
	totalFiles := 0
	deletedFiles := 0

	// 1. 清理没有任务引用的孤儿上传文件
	if *cleanUploads {
		log.Printf("\n📦 Cleaning orphan upload files (older than %d hours)...", *uploadExpire)
		size, count := cleanOrphanFiles(db, cfg.Upload.Dir, *uploadExpire, *dryRun)
		deletedSize += size
		deletedFiles += count

		size, count = cleanOrphanFiles(db, cfg.Slicer.OutputDir, *uploadExpire, *dryRun)
		deletedSize += size
		deletedFiles += count
	}

	// 2. 清理已终结任务的文件
	if *cleanTerminal {
		log.Printf("\n📊 Cleaning files of DONE/REJECTED jobs (older than %d days)...", *artifactKeep)
		size, count := cleanTerminalJobs(db, *artifactKeep, *dryRun)
		deletedSize += size
		deletedFiles += count
	}

	// 3. 统计当前占用
	log.Println("\n📈 Scanning current disk usage...")
	for _, dir := range []string{cfg.Upload.Dir, cfg.Slicer.OutputDir} {
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				totalSize += info.Size()
				totalFiles++
			}
			return nil
		})
	}

	// 输出统计
	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Total files: %d", totalFiles)
	log.Printf("Total size: %s", formatSize(totalSize))
	log.Printf("Deleted files: %d", deletedFiles)
	log.Printf("Freed space: %s", formatSize(deletedSize))
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - No files were actually deleted")
		log.Println("   Run with -dry-run=false to actually delete files")
	} else {
		log.Println("\n✅ Cleanup completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// cleanOrphanFiles 清理目录中过期且没有任何任务引用的文件
func cleanOrphanFiles(db *gorm.DB, dir string, expireHours int, dryRun bool) (int64, int) {
	referenced, err := listReferencedPaths(db)
	if err != nil {
		log.Printf("Failed to list referenced paths: %v", err)
		return 0, 0
	}

	expireTime := time.Now().Add(-time.Duration(expireHours) * time.Hour)
	var totalSize int64
	var count int

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Failed to read dir %s: %v", dir, err)
		}
		return 0, 0
	}

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

		// 检查是否过期
		if info.ModTime().Before(expireTime) {
			totalSize += info.Size()

			log.Printf("  - %s (%.2f MB, %s old)",
				entry.Name(),
				float64(info.Size())/1024/1024,
				time.Since(info.ModTime()).Round(time.Hour))

			if !dryRun {
				if err := os.Remove(path); err != nil {
					log.Printf("    ❌ Failed to delete: %v", err)
				} else {
					count++
				}
			} else {
				count++
			}
		}
	}

	log.Printf("Found %d orphan files in %s (total: %s)", count, dir, formatSize(totalSize))

	return totalSize, count
}

// cleanTerminalJobs 清理已终结任务的模型与切片文件，数据库记录保留
func cleanTerminalJobs(db *gorm.DB, keepDays int, dryRun bool) (int64, int) {
	cutoff := time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	var jobs []model.PrintJob
	err := db.Where("status IN ? AND created_at < ?",
		[]model.JobStatus{model.StatusDone, model.StatusRejected}, cutoff).
		Find(&jobs).Error
	if err != nil {
		log.Printf("Failed to query terminal jobs: %v", err)
		return 0, 0
	}

	log.Printf("Found %d terminal jobs older than %d days", len(jobs), keepDays)

	var totalSize int64
	var count int

	for _, job := range jobs {
		for _, path := range []string{job.FilePath, job.SlicedFilePath} {
			if path == "" {
				continue
			}

			info, err := os.Stat(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				log.Printf("  ⚠️  Failed to stat %s: %v", path, err)
				continue
			}

			totalSize += info.Size()
			log.Printf("  - job %d: %s (%.2f MB, %s)",
				job.ID, filepath.Base(path),
				float64(info.Size())/1024/1024, job.Status)

			if !dryRun {
				if err := os.Remove(path); err != nil {
					log.Printf("    ❌ Failed to delete: %v", err)
				} else {
					count++
				}
			} else {
				count++
			}
		}
	}

	log.Printf("Found %d terminal job files to clean (total: %s)", count, formatSize(totalSize))

	return totalSize, count
}

// listReferencedPaths 所有任务引用的文件路径
func listReferencedPaths(db *gorm.DB) (map[string]struct{}, error) {
	var jobs []model.PrintJob
	if err := db.Select("file_path", "sliced_file_path").Find(&jobs).Error; err != nil {
		return nil, err
	}

	paths := make(map[string]struct{}, len(jobs)*2)
	for _, j := range jobs {
		if j.FilePath != "" {
			paths[j.FilePath] = struct{}{}
		}
		if j.SlicedFilePath != "" {
			paths[j.SlicedFilePath] = struct{}{}
		}
	}
	return paths, nil
}

// formatSize 格式化文件大小
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// connectDB 连接数据库
func connectDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return db, nil
}
