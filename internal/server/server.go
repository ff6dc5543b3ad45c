package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/audit"
	auditdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/audit/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/billing"
	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/invoice"
	invoicedomain "github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/ledger"
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/lock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/observability"
	obslogger "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/logger"
	obsmetrics "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/metrics"
	obstracing "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/tracing"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/report"
	reportdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/tariff"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/treatment"
	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Services bundles the domain modules behind the HTTP API. The CLI reuses it
// for the one-shot close-day and report commands.
var Services = fx.Options(
	tariff.Module,
	audit.Module,
	lock.Module,
	treatment.Module,
	billing.Module,
	invoice.Module,
	ledger.Module,
	settlement.Module,
	report.Module,
)

var Module = fx.Module("http.server",
	Services,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		DefaultClinicID: obsCfg.DefaultClinicID,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	bucket        *lock.TokenBucket
	treatmentSvc  treatmentdomain.Service
	billingSvc    billingdomain.Service
	invoiceSvc    invoicedomain.Service
	ledgerSvc     ledgerdomain.Service
	settlementSvc settlementdomain.Service
	reportSvc     reportdomain.Service
	auditSvc      auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Bucket        *lock.TokenBucket `optional:"true"`
	TreatmentSvc  treatmentdomain.Service
	BillingSvc    billingdomain.Service
	InvoiceSvc    invoicedomain.Service
	LedgerSvc     ledgerdomain.Service
	SettlementSvc settlementdomain.Service
	ReportSvc     reportdomain.Service
	AuditSvc      auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		bucket:        p.Bucket,
		treatmentSvc:  p.TreatmentSvc,
		billingSvc:    p.BillingSvc,
		invoiceSvc:    p.InvoiceSvc,
		ledgerSvc:     p.LedgerSvc,
		settlementSvc: p.SettlementSvc,
		reportSvc:     p.ReportSvc,
		auditSvc:      p.AuditSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", ClinicContext(s.cfg.DefaultClinicID))

	treatments := api.Group("/treatments")
	treatments.POST("", s.PlanTreatment)
	treatments.GET("", s.ListTreatments)
	treatments.GET("/:id", s.GetTreatment)
	treatments.POST("/:id/start", s.StartTreatment)
	treatments.POST("/:id/complete", s.CompleteTreatment)

	billingGroup := api.Group("/billing")
	billingGroup.POST("/preview", s.PreviewBilling)
	billingGroup.POST("/treatments/:id", s.BillTreatment)
	billingGroup.POST("/run", s.RunBilling)
	billingGroup.GET("/lines", s.ListInvoiceLines)

	invoices := api.Group("/invoices")
	invoices.POST("/aggregate", s.AggregateInvoice)
	invoices.GET("/drafts/:draft_id", s.GetInvoiceByDraft)

	ledgerGroup := api.Group("/ledger")
	ledgerGroup.POST("/transactions", WriteRateLimit(s.bucket, s.cfg.LedgerWriteRate, s.cfg.LedgerWriteBurst, s.log), s.AppendTransaction)
	ledgerGroup.GET("/transactions", s.ListTransactions)
	ledgerGroup.POST("/transactions/:id/verify", s.VerifyTransaction)

	settlements := api.Group("/settlements")
	settlements.GET("/:date", s.GetSettlementStatus)
	settlements.POST("/:date/close", s.CloseDay)
	settlements.POST("/:date/corrections", s.RecordCorrection)
	settlements.POST("/:date/report", s.RegenerateReport)

	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
