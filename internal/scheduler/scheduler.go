package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	billingdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/billing/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/clock"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/lock"
	obsmetrics "github.com/Nobledental/NOBLE-OS-sub002/internal/observability/metrics"
	reportdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobBillCompleted = "bill_completed"
	JobReportCatchUp = "report_catchup"

	runLockKey = "scheduler:run"
	actorName  = "scheduler"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billingdomain.Service
	ReportSvc  reportdomain.Service
	Store      reportdomain.Store
	Config     Config              `optional:"true"`
	Locker     *lock.Locker        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Scheduler runs background catch-up work: billing treatments that were
// completed but never billed, and rendering reports whose dispatch after
// close did not land.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingSvc billingdomain.Service
	reportSvc  reportdomain.Service
	store      reportdomain.Store
	locker     *lock.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.BillingSvc == nil || p.ReportSvc == nil || p.Store == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
		reportSvc:  p.ReportSvc,
		store:      p.Store,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	ctx = auditcontext.WithActor(ctx, actorName)

	log := s.log.With(zap.String("job", name))
	processed, err := fn(ctx)
	fields := []zap.Field{
		zap.Int("processed", processed),
		zap.Duration("duration", s.clock.Now().Sub(start)),
	}

	switch {
	case err == nil:
		s.obsMetrics.RecordJobRun(parent, name, "ok")
		if processed > 0 {
			log.Info("scheduler job finished", fields...)
		}
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		// The next run picks up where this one stopped.
		s.obsMetrics.RecordJobRun(parent, name, "timeout")
		log.Warn("scheduler job timed out", append(fields, zap.Duration("timeout", s.cfg.JobTimeout))...)
		return nil
	default:
		s.obsMetrics.RecordJobRun(parent, name, "error")
		log.Error("scheduler job failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("%s: %w", name, err)
	}
}

// RunOnce runs every enabled job once. When redis is configured only one
// replica runs per interval.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(parent, runLockKey, s.cfg.RunInterval)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("scheduler run held by another replica")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(parent), runLockKey, token); err != nil {
				s.log.Warn("failed to release scheduler lock", zap.Error(err))
			}
		}()
	}

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{JobBillCompleted, s.BillCompletedJob},
		{JobReportCatchUp, s.ReportCatchUpJob},
	}

	var err error
	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// BillCompletedJob bills completed, unbilled treatments clinic by clinic.
// Per-treatment failures are reported by the billing run and do not stop
// other clinics.
func (s *Scheduler) BillCompletedJob(ctx context.Context) (int, error) {
	clinics, err := s.fetchClinicsWithBillableWork(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, clinicID := range clinics {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		result, err := s.billingSvc.BillCompleted(ctx, clinicID)
		if err != nil {
			s.log.Warn("billing run failed",
				zap.String("job", JobBillCompleted),
				zap.String("clinic_id", clinicID),
				zap.Error(err),
			)
			continue
		}
		processed += len(result.Lines)
		if len(result.Failures) > 0 {
			s.log.Warn("billing run left treatments unbilled",
				zap.String("job", JobBillCompleted),
				zap.String("clinic_id", clinicID),
				zap.Int("failures", len(result.Failures)),
			)
		}
	}
	return processed, nil
}

// ReportCatchUpJob renders reports for recently closed days that have no
// stored document.
func (s *Scheduler) ReportCatchUpJob(ctx context.Context) (int, error) {
	since := s.clock.Now().Add(-s.cfg.ReportLookback)
	days, err := s.fetchRecentlyClosedDays(ctx, since)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		_, err := s.store.Open(ctx, day.ClinicID, day.Date)
		if err == nil {
			continue
		}
		if !errors.Is(err, reportdomain.ErrReportNotFound) {
			s.log.Warn("report lookup failed",
				zap.String("job", JobReportCatchUp),
				zap.String("clinic_id", day.ClinicID),
				zap.String("date", day.Date),
				zap.Error(err),
			)
			continue
		}
		if _, err := s.reportSvc.Regenerate(ctx, day.ClinicID, day.Date); err != nil {
			s.obsMetrics.RecordReportFailure(ctx, day.ClinicID)
			s.log.Warn("report catch-up failed",
				zap.String("job", JobReportCatchUp),
				zap.String("clinic_id", day.ClinicID),
				zap.String("date", day.Date),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

type closedDay struct {
	ClinicID string
	Date     string
}

func (s *Scheduler) fetchClinicsWithBillableWork(ctx context.Context) ([]string, error) {
	var clinics []string
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT clinic_id FROM treatments
		WHERE status = ? AND billed = ?
		ORDER BY clinic_id
		LIMIT ?`,
		treatmentdomain.StatusCompleted, false, s.cfg.BatchSize,
	).Scan(&clinics).Error
	if err != nil {
		return nil, err
	}
	return clinics, nil
}

func (s *Scheduler) fetchRecentlyClosedDays(ctx context.Context, since time.Time) ([]closedDay, error) {
	var days []closedDay
	err := s.db.WithContext(ctx).Raw(
		`SELECT clinic_id, date FROM settlements
		WHERE status = ? AND closed_at >= ?
		ORDER BY closed_at ASC
		LIMIT ?`,
		settlementdomain.StatusClosed, since, s.cfg.BatchSize,
	).Scan(&days).Error
	if err != nil {
		return nil, err
	}
	return days, nil
}
