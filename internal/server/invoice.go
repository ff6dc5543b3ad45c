package server

import (
	"net/http"
	"strings"

	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	invoicedomain "github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type aggregateInvoiceRequest struct {
	DraftID      string   `json:"draft_id"`
	TreatmentIDs []string `json:"treatment_ids"`
}

func (r aggregateInvoiceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TreatmentIDs, validation.Required),
	)
}

// AggregateInvoice totals the persisted lines of the given treatments and
// assigns the draft's invoice number.
func (s *Server) AggregateInvoice(c *gin.Context) {
	var req aggregateInvoiceRequest
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
	seen := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			AbortWithError(c, errs.Validation(invoicedomain.ErrDuplicateLine, id.String(), "treatment appears twice"))
			return
		}
		seen[id] = struct{}{}
	}

	ctx := c.Request.Context()
	clinicID := clinicFrom(c)
	lines, err := s.billingSvc.ListLines(ctx, billingdomain.ListLinesRequest{ClinicID: clinicID, TreatmentIDs: ids})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(lines) != len(ids) {
		AbortWithError(c, invalidRequestError("every treatment must be billed before it can be invoiced"))
		return
	}

	result, err := s.invoiceSvc.Aggregate(ctx, invoicedomain.AggregateRequest{
		ClinicID: clinicID,
		DraftID:  strings.TrimSpace(req.DraftID),
		Lines:    lines,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetInvoiceByDraft(c *gin.Context) {
	item, err := s.invoiceSvc.GetByDraft(c.Request.Context(), clinicFrom(c), strings.TrimSpace(c.Param("draft_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
