package server

import (
	"net/http"
	"strings"

	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

type listAuditLogsQuery struct {
	PageToken   string `form:"page_token"`
	PageSize    int    `form:"page_size"`
	Event       string `form:"event"`
	SubjectType string `form:"subject_type"`
	SubjectID   string `form:"subject_id"`
	Actor       string `form:"actor"`
	StartAt     string `form:"start_at"`
	EndAt       string `form:"end_at"`
	From        string `form:"from"`
	To          string `form:"to"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError("invalid query"))
		return
	}

	startAtValue := strings.TrimSpace(query.StartAt)
	if startAtValue == "" {
		startAtValue = strings.TrimSpace(query.From)
	}
	startAt, err := parseOptionalTime(startAtValue, false)
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid start_at"))
		return
	}

	endAtValue := strings.TrimSpace(query.EndAt)
	if endAtValue == "" {
		endAtValue = strings.TrimSpace(query.To)
	}
	endAt, err := parseOptionalTime(endAtValue, true)
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		ClinicID:    clinicFrom(c),
		Event:       strings.TrimSpace(query.Event),
		SubjectType: strings.TrimSpace(query.SubjectType),
		SubjectID:   strings.TrimSpace(query.SubjectID),
		Actor:       strings.TrimSpace(query.Actor),
		StartAt:     startAt,
		EndAt:       endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
