package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	obsmetrics "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/metrics"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dispatchAttempts = 3
	dispatchTimeout  = 30 * time.Second
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	Renderer       domain.Renderer
	Store          domain.Store
	SettlementRepo settlementdomain.Repository
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	renderer       domain.Renderer
	store          domain.Store
	settlementRepo settlementdomain.Repository
	obsMetrics     *obsmetrics.Metrics

	backoff  time.Duration
	inflight sync.WaitGroup
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("report.service"),
		clock:          p.Clock,
		renderer:       p.Renderer,
		store:          p.Store,
		settlementRepo: p.SettlementRepo,
		obsMetrics:     p.ObsMetrics,
		backoff:        500 * time.Millisecond,
	}
}

func (s *Service) Generate(ctx context.Context, record settlementdomain.Settlement) (string, error) {
	if !record.Closed() {
		return "", errs.State(domain.ErrSettlementNotClosed, record.Date, string(record.Status), "reports are only rendered for closed days")
	}
	doc, err := s.renderer.Render(ctx, domain.FromSettlement(record, s.clock.Now()))
	if err != nil {
		return "", err
	}
	return s.store.Save(ctx, record.ClinicID, record.Date, doc)
}

func (s *Service) Regenerate(ctx context.Context, clinicID, date string) (string, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return "", errs.Validation(domain.ErrInvalidClinic, "", "clinic id is required")
	}
	date, err := ledgerdomain.ParseDate(date)
	if err != nil {
		return "", err
	}
	record, err := s.settlementRepo.Find(ctx, s.db, clinicID, date)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", errs.State(domain.ErrSettlementNotClosed, date, string(settlementdomain.StatusOpen), "the day has not been closed")
	}
	path, err := s.Generate(ctx, *record)
	if err != nil {
		return "", err
	}
	s.log.Info("settlement report regenerated",
		zap.String("clinic_id", clinicID),
		zap.String("date", date),
		zap.String("path", path),
	)
	return path, nil
}

// Dispatch renders the report in the background. Failures are logged and
// counted; they never reach the caller.
func (s *Service) Dispatch(ctx context.Context, record settlementdomain.Settlement) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()

		var lastErr error
	attempts:
		for attempt := 1; attempt <= dispatchAttempts; attempt++ {
			path, err := s.Generate(ctx, record)
			if err == nil {
				s.log.Info("settlement report generated",
					zap.String("clinic_id", record.ClinicID),
					zap.String("date", record.Date),
					zap.String("path", path),
					zap.Int("attempt", attempt),
				)
				return
			}
			lastErr = err
			if errs.IsState(err) || attempt == dispatchAttempts {
				break
			}
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}

		s.obsMetrics.RecordReportFailure(ctx, record.ClinicID)
		s.log.Error("settlement report generation failed",
			zap.String("clinic_id", record.ClinicID),
			zap.String("date", record.Date),
			zap.Error(lastErr),
		)
	}()
}

// Wait blocks until in-flight dispatches finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
