package tariff

import (
	"github.com/Nobledental/NOBLE-OS-sub002/internal/tariff/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tariff.catalog",
	fx.Provide(service.NewCatalog),
)
