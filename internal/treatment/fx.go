package treatment

import (
	"github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/repository"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("treatment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
