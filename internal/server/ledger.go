package server

import (
	"net/http"

	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type appendTransactionRequest struct {
	Date      string `json:"date"`
	Channel   string `json:"channel"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

func (r appendTransactionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Date, validation.Required),
		validation.Field(&r.Channel, validation.Required),
		validation.Field(&r.Amount, validation.Required),
	)
}

func (s *Server) AppendTransaction(c *gin.Context) {
	var req appendTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("malformed json body"))
		return
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	txn, err := s.ledgerSvc.Append(c.Request.Context(), ledgerdomain.AppendRequest{
		ClinicID:   clinicFrom(c),
		Date:       req.Date,
		Channel:    req.Channel,
		Amount:     req.Amount,
		Reference:  req.Reference,
		RecordedBy: actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": txn})
}

func (s *Server) ListTransactions(c *gin.Context) {
	items, err := s.ledgerSvc.List(c.Request.Context(), clinicFrom(c), c.Query("date"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) VerifyTransaction(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid transaction id"))
		return
	}

	txn, err := s.ledgerSvc.Verify(c.Request.Context(), ledgerdomain.VerifyRequest{
		ClinicID: clinicFrom(c),
		ID:       id,
		Actor:    actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}
