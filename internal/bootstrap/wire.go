//go:build wireinject
// +build wireinject

//go:generate wire

package bootstrap

import (
	"context"

	"github.com/google/wire"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
)

// InitializeApp builds the application from ProviderSet. configFile may be empty.
// The returned cleanup flushes pending events and closes NATS, Redis and the logger.
func InitializeApp(ctx context.Context, configFile config.ConfigFile) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
