package lock

import "go.uber.org/fx"

var Module = fx.Module("lock",
	fx.Provide(NewClient),
	fx.Provide(NewLocker),
	fx.Provide(NewTokenBucket),
)
