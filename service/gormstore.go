package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/linhnguyen0702/contractledger/model"
)

// OpenDatabase connects to Postgres and migrates the contract and audit
// tables.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&model.Contract{}, &model.AuditEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// GormStore is the Postgres-backed ContractStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, c *model.Contract) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}
	err := s.db.WithContext(ctx).Create(c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") {
			return &model.ValidationError{Field: "contract_number", Message: "contract number already exists"}
		}
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*model.Contract, error) {
	var c model.Contract
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &model.NotFoundError{Resource: "contract", ID: id}
		}
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}
	return &c, nil
}

func (s *GormStore) GetByNumber(ctx context.Context, number string) (*model.Contract, error) {
	var c model.Contract
	err := s.db.WithContext(ctx).First(&c, "contract_number = ?", model.NormalizeContractNumber(number)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &model.NotFoundError{Resource: "contract", ID: number}
		}
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}
	return &c, nil
}

func (s *GormStore) Update(ctx context.Context, c *model.Contract, expectedVersion int64) error {
	c.Version = expectedVersion + 1
	c.UpdatedAt = time.Now()
	res := s.db.WithContext(ctx).
		Model(&model.Contract{}).
		Where("id = ? AND version = ?", c.ID, expectedVersion).
		Select("*").
		Updates(c)
	if res.Error != nil {
		return fmt.Errorf("failed to update contract: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either gone or a stale version; disambiguate for the caller.
		var current model.Contract
		err := s.db.WithContext(ctx).Select("version").First(&current, "id = ?", c.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.NotFoundError{Resource: "contract", ID: c.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to check contract version: %w", err)
		}
		return &model.ConflictError{ID: c.ID, ExpectedVersion: expectedVersion, ActualVersion: current.Version}
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, f ContractFilter) ([]model.Contract, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Contract{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	} else {
		q = q.Where("status <> ?", model.StatusDeleted)
	}
	if f.ContractType != "" {
		q = q.Where("contract_type = ?", f.ContractType)
	}
	if f.Department != "" {
		q = q.Where("department = ?", f.Department)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("contract_number ILIKE ? OR contract_name ILIKE ? OR contractor ILIKE ?", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count contracts: %w", err)
	}

	page, limit := normalizePage(f.Page, f.Limit)
	order := orderClause(f.SortBy, f.SortOrder)

	var contracts []model.Contract
	err := q.Order(order).Offset((page - 1) * limit).Limit(limit).Find(&contracts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contracts: %w", err)
	}
	return contracts, total, nil
}

func orderClause(sortBy, sortOrder string) string {
	col := "created_at"
	switch sortBy {
	case "contract_value", "start_date", "end_date":
		col = sortBy
	}
	dir := "DESC"
	if sortOrder == "asc" {
		dir = "ASC"
	}
	return col + " " + dir
}

func (s *GormStore) Stats(ctx context.Context, expiringWithin time.Duration) (*ContractStats, error) {
	stats := &ContractStats{ByStatus: make(map[model.Status]int64)}

	type row struct {
		Status model.Status
		Count  int64
		Total  float64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&model.Contract{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(contract_value), 0) AS total").
		Where("status <> ?", model.StatusDeleted).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate contracts: %w", err)
	}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.Count
		stats.TotalContracts += r.Count
		stats.TotalValue += r.Total
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Model(&model.Contract{}).
		Where("status IN ?", []model.Status{model.StatusApproved, model.StatusActive}).
		Where("end_date > ? AND end_date <= ?", now, now.Add(expiringWithin)).
		Count(&stats.ExpiringSoon).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count expiring contracts: %w", err)
	}
	return stats, nil
}

// GormAuditSink persists audit events in the audit_logs table.
type GormAuditSink struct {
	db *gorm.DB
}

func NewGormAuditSink(db *gorm.DB) *GormAuditSink {
	return &GormAuditSink{db: db}
}

func (s *GormAuditSink) Record(ctx context.Context, e model.AuditEvent) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return "", fmt.Errorf("failed to record audit event: %w", err)
	}
	return e.ID, nil
}

func (s *GormAuditSink) Query(ctx context.Context, f model.AuditFilter) (*model.AuditPage, error) {
	q := s.db.WithContext(ctx).Model(&model.AuditEvent{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.PerformedBy != "" {
		q = q.Where("performed_by = ?", f.PerformedBy)
	}
	if !f.From.IsZero() {
		q = q.Where("performed_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("performed_at <= ?", f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	page, limit := normalizePage(f.Page, f.Limit)
	var items []model.AuditEvent
	err := q.Order("performed_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return &model.AuditPage{Items: items, TotalCount: total, Page: page, Limit: limit}, nil
}
