//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.
package injector

import (
	"github.com/google/wire"
	"github.com/zeusync/pocketbus/internal/config"
)

func InitializeBroker(cfg *config.Config) (*BrokerApp, func(), error) {
	wire.Build(BrokerSet)
	return nil, nil, nil
}

func InitializeClient(cfg *config.Config) (*ClientApp, func(), error) {
	wire.Build(ClientSet)
	return nil, nil, nil
}
