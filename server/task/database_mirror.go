// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
)

// JSONMap stores a map[string]any as a JSON column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any(m))
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]any)(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]any)(m))
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}

// TaskRecord is the durable row mirroring one task's last known state.
type TaskRecord struct {
	TaskID    string    `gorm:"column:task_id;primaryKey" json:"taskId"`
	UserID    string    `gorm:"column:user_id;index" json:"userId"`
	Status    string    `gorm:"column:status" json:"status"`
	Progress  int       `gorm:"column:progress" json:"progress"`
	Result    JSONMap   `gorm:"column:result;type:json" json:"result,omitzero"`
	Error     string    `gorm:"column:error" json:"error,omitzero"`
	Metadata  JSONMap   `gorm:"column:metadata;type:json" json:"metadata,omitzero"`
	TaskType  string    `gorm:"column:task_type" json:"taskType"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName returns the table name for TaskRecord.
func (TaskRecord) TableName() string {
	return "task_statuses"
}

// DatabaseMirror is a Mirror backed by a GORM database. It keeps a
// lagging durable copy of each task's last known state; the in-memory
// store never depends on it succeeding.
type DatabaseMirror struct {
	db *gorm.DB
}

var _ Mirror = (*DatabaseMirror)(nil)

// DatabaseMirrorConfig holds configuration for DatabaseMirror.
type DatabaseMirrorConfig struct {
	DB *gorm.DB

	// Migrate creates the backing table when true.
	Migrate bool
}

// NewDatabaseMirror creates a new DatabaseMirror.
func NewDatabaseMirror(config DatabaseMirrorConfig) (*DatabaseMirror, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}

	if config.Migrate {
		if err := config.DB.AutoMigrate(&TaskRecord{}); err != nil {
			return nil, fmt.Errorf("migrate task_statuses: %w", err)
		}
	}

	return &DatabaseMirror{db: config.DB}, nil
}

// UpdateByID upserts the given fields for a task owned by ownerID. A
// missing row is created so a mirror that was down at create time
// converges on the next update.
func (m *DatabaseMirror) UpdateByID(ctx context.Context, taskID, ownerID string, fields map[string]any) error {
	if taskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if ownerID == "" {
		return fmt.Errorf("owner ID cannot be empty")
	}

	normalized := normalizeFields(fields)

	result := m.db.WithContext(ctx).
		Model(&TaskRecord{}).
		Where("task_id = ? AND user_id = ?", taskID, ownerID).
		Updates(normalized)
	if result.Error != nil {
		return NewStoreError("mirror", taskID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	record := &TaskRecord{TaskID: taskID, UserID: ownerID, CreatedAt: time.Now()}
	applyFields(record, normalized)
	if err := m.db.WithContext(ctx).Create(record).Error; err != nil {
		// A concurrent create is fine; the row now exists.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return NewStoreError("mirror", taskID, err)
	}
	return nil
}

// normalizeFields converts map-valued fields to JSONMap columns.
func normalizeFields(fields map[string]any) map[string]any {
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		if m, ok := v.(map[string]any); ok {
			normalized[k] = JSONMap(m)
			continue
		}
		normalized[k] = v
	}
	return normalized
}

// applyFields copies update fields onto a fresh record for insert.
func applyFields(record *TaskRecord, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "status":
			record.Status, _ = v.(string)
		case "progress":
			record.Progress, _ = v.(int)
		case "result":
			record.Result, _ = v.(JSONMap)
		case "error":
			record.Error, _ = v.(string)
		case "metadata":
			record.Metadata, _ = v.(JSONMap)
		case "task_type":
			record.TaskType, _ = v.(string)
		case "updated_at":
			record.UpdatedAt, _ = v.(time.Time)
		}
	}
}
