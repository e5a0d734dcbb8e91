package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"alephauto/pkg/jobs/models"
)

// PostgresStore is the GORM-backed JobRepository: a pooled connection and
// AutoMigrate of the Job and RetryInfo tables.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(connString string) (*PostgresStore, error) {
	cfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Job{}, &models.RetryInfo{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts a job by id — every status transition is a full overwrite,
// giving the at-least-once write semantics §4.F requires.
func (s *PostgresStore) Save(ctx context.Context, job *models.Job) error {
	result := s.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("save job %s: %w", job.ID, result.Error)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *PostgresStore) Load(ctx context.Context, filter Filter) ([]models.Job, error) {
	q := s.db.WithContext(ctx).Model(&models.Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.OriginalID != "" {
		q = q.Where("original_id = ?", filter.OriginalID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	q = q.Order("created_at asc")

	var jobs []models.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) Counts(ctx context.Context, jobType string) (Counts, error) {
	var counts Counts
	rows, err := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("status, count(*) as n").
		Where("type = ?", jobType).
		Group("status").
		Rows()
	if err != nil {
		return counts, fmt.Errorf("counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		switch models.Status(status) {
		case models.StatusCreated:
			counts.Created = n
		case models.StatusQueued:
			counts.Queued = n
		case models.StatusRunning:
			counts.Running = n
		case models.StatusCompleted:
			counts.Completed = n
		case models.StatusFailed:
			counts.Failed = n
		}
	}
	return counts, nil
}

func (s *PostgresStore) Last(ctx context.Context, jobType string, status models.Status) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).
		Where("type = ? AND status = ?", jobType, status).
		Order("created_at desc").
		First(&job)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *PostgresStore) BulkImport(ctx context.Context, jobs []models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).CreateInBatches(jobs, 100)
	if result.Error != nil {
		return fmt.Errorf("bulk import: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) GetRetryInfo(ctx context.Context, originalID string) (*models.RetryInfo, error) {
	var info models.RetryInfo
	result := s.db.WithContext(ctx).First(&info, "original_id = ?", originalID)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &info, nil
}

func (s *PostgresStore) SaveRetryInfo(ctx context.Context, info *models.RetryInfo) error {
	result := s.db.WithContext(ctx).Save(info)
	if result.Error != nil {
		return fmt.Errorf("save retry info %s: %w", info.OriginalID, result.Error)
	}
	return nil
}

func (s *PostgresStore) DeleteRetryInfo(ctx context.Context, originalID string) error {
	result := s.db.WithContext(ctx).Delete(&models.RetryInfo{}, "original_id = ?", originalID)
	if result.Error != nil {
		return fmt.Errorf("delete retry info %s: %w", originalID, result.Error)
	}
	return nil
}
