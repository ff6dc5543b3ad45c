package report

import (
	"context"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/report/render"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/report/service"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/report/store"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("report.service",
	fx.Provide(render.NewPDFRenderer),
	fx.Provide(store.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) settlementdomain.ReportDispatcher { return s },
	),
	fx.Invoke(func(lc fx.Lifecycle, s *service.Service) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return s.Wait(ctx)
			},
		})
	}),
)
