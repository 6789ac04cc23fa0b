package configports

import (
	"context"

	configdomain "songhost.dev/cli/internal/core/domain/config"
)

// Loader produces one layer of configuration.
type Loader interface {
	Load(ctx context.Context) (configdomain.Snapshot, error)
	Name() string
}
