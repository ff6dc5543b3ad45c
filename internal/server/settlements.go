package server

import (
	"net/http"

	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type correctionRequest struct {
	Channel string `json:"channel"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
}

func (r correctionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Channel, validation.Required),
		validation.Field(&r.Amount, validation.Required),
		validation.Field(&r.Reason, validation.Required),
	)
}

func (s *Server) GetSettlementStatus(c *gin.Context) {
	view, err := s.settlementSvc.Status(c.Request.Context(), clinicFrom(c), c.Param("date"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) CloseDay(c *gin.Context) {
	record, err := s.settlementSvc.CloseDay(c.Request.Context(), settlementdomain.CloseRequest{
		ClinicID: clinicFrom(c),
		Date:     c.Param("date"),
		Actor:    actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) RecordCorrection(c *gin.Context) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("malformed json body"))
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	err := s.settlementSvc.RecordCorrection(c.Request.Context(), settlementdomain.CorrectionRequest{
		ClinicID: clinicFrom(c),
		Date:     c.Param("date"),
		Actor:    actorFrom(c),
		Channel:  req.Channel,
		Amount:   req.Amount,
		Reason:   req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"status": "recorded"}})
}

func (s *Server) RegenerateReport(c *gin.Context) {
	path, err := s.reportSvc.Regenerate(c.Request.Context(), clinicFrom(c), c.Param("date"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"path": path}})
}
