package billing

import (
	"github.com/Nobledental/NOBLE-OS-sub002/internal/billing/repository"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
