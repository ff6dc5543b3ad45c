package server

import (
	"net/http"
	"strings"

	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type planTreatmentRequest struct {
	Procedure string `json:"procedure"`
	Teeth     []int  `json:"teeth"`
}

func (r planTreatmentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Procedure, validation.Required),
	)
}

type listTreatmentsQuery struct {
	Status   string `form:"status"`
	Billed   string `form:"billed"`
	Billable string `form:"billable"`
	Limit    int    `form:"limit"`
}

func (s *Server) PlanTreatment(c *gin.Context) {
	var req planTreatmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("malformed json body"))
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	t, err := s.treatmentSvc.Plan(c.Request.Context(), treatmentdomain.PlanRequest{
		ClinicID:  clinicFrom(c),
		Procedure: req.Procedure,
		Teeth:     req.Teeth,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": t})
}

func (s *Server) StartTreatment(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid treatment id"))
		return
	}

	t, err := s.treatmentSvc.Start(c.Request.Context(), clinicFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": t})
}

func (s *Server) CompleteTreatment(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid treatment id"))
		return
	}

	t, err := s.treatmentSvc.Complete(c.Request.Context(), clinicFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": t})
}

func (s *Server) GetTreatment(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid treatment id"))
		return
	}

	t, err := s.treatmentSvc.Get(c.Request.Context(), clinicFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": t})
}

func (s *Server) ListTreatments(c *gin.Context) {
	var query listTreatmentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError("invalid query"))
		return
	}

	billable, err := parseOptionalBool(query.Billable)
	if err != nil {
		AbortWithError(c, invalidRequestError("billable must be a boolean"))
		return
	}
	if billable != nil && *billable {
		items, err := s.treatmentSvc.ListBillable(c.Request.Context(), clinicFrom(c))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": items})
		return
	}

	billed, err := parseOptionalBool(query.Billed)
	if err != nil {
		AbortWithError(c, invalidRequestError("billed must be a boolean"))
		return
	}

	items, err := s.treatmentSvc.List(c.Request.Context(), treatmentdomain.ListRequest{
		ClinicID: clinicFrom(c),
		Status:   strings.TrimSpace(query.Status),
		Billed:   billed,
		Limit:    query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
