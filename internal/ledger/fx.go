package ledger

import (
	"github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/repository"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
