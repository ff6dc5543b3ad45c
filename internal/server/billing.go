package server

import (
	"net/http"

	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type previewBillingRequest struct {
	TreatmentIDs []string `json:"treatment_ids"`
}

func (r previewBillingRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TreatmentIDs, validation.Required),
	)
}

type listLinesQuery struct {
	TreatmentIDs []string `form:"treatment_id"`
}

func (s *Server) PreviewBilling(c *gin.Context) {
	var req previewBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("malformed json body"))
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}
	ids, err := parseSnowflakeIDs(req.TreatmentIDs)
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid treatment id"))
		return
	}

	lines, err := s.billingSvc.ComputeInvoiceLines(c.Request.Context(), clinicFrom(c), ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": lines})
}

func (s *Server) BillTreatment(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid treatment id"))
		return
	}

	line, err := s.billingSvc.BillTreatment(c.Request.Context(), clinicFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": line})
}

func (s *Server) RunBilling(c *gin.Context) {
	result, err := s.billingSvc.BillCompleted(c.Request.Context(), clinicFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListInvoiceLines(c *gin.Context) {
	var query listLinesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError("invalid query"))
		return
	}
	ids, err := parseSnowflakeIDs(query.TreatmentIDs)
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid treatment id"))
		return
	}

	lines, err := s.billingSvc.ListLines(c.Request.Context(), billingdomain.ListLinesRequest{
		ClinicID:     clinicFrom(c),
		TreatmentIDs: ids,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": lines})
}
