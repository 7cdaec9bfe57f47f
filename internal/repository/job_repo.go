package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/print_go_server/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *model.PrintJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) GetByID(id int64) (*model.PrintJob, error) {
	var job model.PrintJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) Update(job *model.PrintJob) error {
	return r.db.Save(job).Error
}

// UpdateStatusFrom 条件更新订单状态，from 不匹配时不生效（compare-and-set）。
// 返回是否真的发生了迁移，并发批准时只有一个调用会成功。
func (r *JobRepository) UpdateStatusFrom(id int64, from, to model.JobStatus) (bool, error) {
	result := r.db.Model(&model.PrintJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":  to,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateFields 字段级更新并递增版本号
func (r *JobRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	fields["version"] = gorm.Expr("version + 1")
	return r.db.Model(&model.PrintJob{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateFieldsFromVersion 带版本守卫的字段级更新，version 不匹配时不写入。
// 返回是否真的写入，调用方据此重读重试，避免旧快照覆盖并发编辑。
func (r *JobRepository) UpdateFieldsFromVersion(id int64, version int64, fields map[string]interface{}) (bool, error) {
	fields["version"] = gorm.Expr("version + 1")
	result := r.db.Model(&model.PrintJob{}).
		Where("id = ? AND version = ?", id, version).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// List 按创建时间倒序列出任务，status 为空时不过滤
func (r *JobRepository) List(status model.JobStatus) ([]*model.PrintJob, error) {
	var jobs []*model.PrintJob
	query := r.db.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}

// ListTerminalBefore 查询在 cutoff 之前创建且已终结的任务，供清理使用
func (r *JobRepository) ListTerminalBefore(cutoff time.Time) ([]*model.PrintJob, error) {
	var jobs []*model.PrintJob
	err := r.db.
		Where("status IN ? AND created_at < ?", []model.JobStatus{model.StatusDone, model.StatusRejected}, cutoff).
		Find(&jobs).Error
	return jobs, err
}

// ListFilePaths 所有任务引用的文件路径（原始上传 + 切片产物），供孤儿文件清理比对
func (r *JobRepository) ListFilePaths() (map[string]struct{}, error) {
	var jobs []*model.PrintJob
	if err := r.db.Select("file_path", "sliced_file_path").Find(&jobs).Error; err != nil {
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
