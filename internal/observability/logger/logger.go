package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/cliniccontext"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	// DefaultClinicID is stamped as home_clinic on every line so single-site
	// deployments can be filtered without a request context.
	DefaultClinicID string

	Level  string
	Format string

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger, installs it as the zap global and flushes it on stop.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(orDefault(cfg.Level, "info"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	zapCfg.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		zapCfg.Encoding = "console"
	}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	// Sampling is applied below with ledger events exempted.
	zapCfg.Sampling = nil

	options := []zap.Option{zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return newLedgerAwareSampler(core, cfg)
	})}
	if cfg.IncludeCaller {
		options = append(options, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	log, err := zapCfg.Build(options...)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("service", orDefault(cfg.ServiceName, "noble-ledger")),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	}
	if clinic := strings.TrimSpace(cfg.DefaultClinicID); clinic != "" {
		fields = append(fields, zap.String("home_clinic", clinic))
	}
	log = log.With(fields...)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = log.Sync()
				return nil
			},
		})
	}
	return log, nil
}

// newLedgerAwareSampler samples request chatter but never drops money
// movements: warn-and-above passes through, as does any message that names
// a settlement, ledger, invoice or billing event.
func newLedgerAwareSampler(core zapcore.Core, cfg Config) zapcore.Core {
	initial, thereafter, window := cfg.SamplingInitial, cfg.SamplingThereafter, cfg.SamplingWindow
	if initial == 0 {
		initial = 100
	}
	if thereafter == 0 {
		thereafter = 100
	}
	if window == 0 {
		window = time.Second
	}
	return &ledgerAwareCore{
		Core:    core,
		sampled: zapcore.NewSamplerWithOptions(core, window, initial, thereafter),
	}
}

type ledgerAwareCore struct {
	zapcore.Core
	sampled zapcore.Core
}

func (c *ledgerAwareCore) With(fields []zapcore.Field) zapcore.Core {
	return &ledgerAwareCore{Core: c.Core.With(fields), sampled: c.sampled.With(fields)}
}

func (c *ledgerAwareCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level >= zapcore.WarnLevel || isLedgerEvent(ent.Message) {
		return c.Core.Check(ent, ce)
	}
	return c.sampled.Check(ent, ce)
}

func isLedgerEvent(msg string) bool {
	msg = strings.ToLower(msg)
	for _, prefix := range []string{"settlement", "ledger", "invoice", "billing", "treatment billed"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds the request id, clinic, actor and trace ids carried by ctx.
// Missing values are omitted rather than logged empty.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}
	var fields []zap.Field
	if id := auditcontext.RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if clinicID, ok := cliniccontext.ClinicIDFromContext(ctx); ok && clinicID != "" {
		fields = append(fields, zap.String("clinic_id", clinicID))
	}
	if actor := auditcontext.ActorFromContext(ctx); actor != "" {
		fields = append(fields, zap.String("actor", actor))
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// WithSettlement scopes a logger to one clinic business day.
func WithSettlement(log *zap.Logger, clinicID, date string) *zap.Logger {
	if log == nil {
		return nil
	}
	return log.With(
		zap.String("clinic_id", strings.TrimSpace(clinicID)),
		zap.String("settlement_date", strings.TrimSpace(date)),
	)
}

func orDefault(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
