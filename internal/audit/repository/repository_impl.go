package repository

import (
	"context"
	"strings"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, clinic_id, actor, event, subject_type, subject_id,
			before_state, after_state, reason, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ClinicID,
		entry.Actor,
		entry.Event,
		entry.SubjectType,
		entry.SubjectID,
		entry.BeforeState,
		entry.AfterState,
		entry.Reason,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{}).
		Where("clinic_id = ?", filter.ClinicID)

	if event := strings.TrimSpace(filter.Event); event != "" {
		stmt = stmt.Where("event = ?", event)
	}
	if subjectType := strings.TrimSpace(filter.SubjectType); subjectType != "" {
		stmt = stmt.Where("subject_type = ?", subjectType)
	}
	if subjectID := strings.TrimSpace(filter.SubjectID); subjectID != "" {
		stmt = stmt.Where("subject_id = ?", subjectID)
	}
	if actor := strings.TrimSpace(filter.Actor); actor != "" {
		stmt = stmt.Where("actor = ?", actor)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
