package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/db/pagination"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Record(ctx context.Context, req auditdomain.RecordRequest) error {
	return s.RecordTx(ctx, s.db, req)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, req auditdomain.RecordRequest) error {
	entry, err := s.buildEntry(ctx, req)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("event", entry.Event), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) buildEntry(ctx context.Context, req auditdomain.RecordRequest) (*auditdomain.AuditLog, error) {
	clinicID := strings.TrimSpace(req.ClinicID)
	if clinicID == "" {
		return nil, errs.Validation(auditdomain.ErrInvalidClinic, "", "clinic id is required")
	}
	event := strings.TrimSpace(req.Event)
	if event == "" {
		return nil, errs.Validation(auditdomain.ErrInvalidEvent, "", "event is required")
	}
	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		return nil, errs.Validation(auditdomain.ErrInvalidSubject, event, "subject id is required")
	}
	subjectType := strings.TrimSpace(req.SubjectType)
	if subjectType == "" {
		subjectType = "unknown"
	}

	payload := map[string]any{}
	for key, value := range req.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := &auditdomain.AuditLog{
		ID:          s.genID.Generate(),
		ClinicID:    clinicID,
		Actor:       s.resolveActor(ctx, req.Actor),
		Event:       event,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		BeforeState: strings.TrimSpace(req.BeforeState),
		AfterState:  strings.TrimSpace(req.AfterState),
		Reason:      strings.TrimSpace(req.Reason),
		CreatedAt:   s.clock.Now().UTC(),
	}
	if len(payload) > 0 {
		entry.Metadata = datatypes.JSONMap(payload)
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	clinicID := strings.TrimSpace(req.ClinicID)
	if clinicID == "" {
		return auditdomain.ListAuditLogResponse{}, errs.Validation(auditdomain.ErrInvalidClinic, "", "clinic id is required")
	}

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, errs.Validation(auditdomain.ErrInvalidTimeRange, "", "start_at is after end_at")
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, errs.Validation(auditdomain.ErrInvalidPageToken, req.PageToken, "page token is not valid")
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, errs.Validation(auditdomain.ErrInvalidPageToken, req.PageToken, "page token is not valid")
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, errs.Validation(auditdomain.ErrInvalidPageToken, req.PageToken, "page token is not valid")
		}
		cursor = &auditdomain.AuditCursor{
			ID:        id,
			CreatedAt: createdAt,
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		ClinicID:    clinicID,
		Event:       req.Event,
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		Actor:       req.Actor,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Cursor:      cursor,
		Limit:       pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: logs, PageInfo: *pageInfo}
	if !pageInfo.HasMore {
		resp.NextPageToken = ""
	}
	return resp, nil
}

func (s *Service) resolveActor(ctx context.Context, actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = auditcontext.ActorFromContext(ctx)
	}
	if actor == "" {
		actor = auditdomain.ActorSystem
	}
	return actor
}
