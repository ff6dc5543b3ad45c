package settlement

import (
	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/repository"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
