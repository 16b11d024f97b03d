package refstore

import (
	"context"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

// Store is a shared second tier for slow-changing reference data, sitting
// behind the in-process TTL cache. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, symbol string) (*models.Reference, error)
	Set(ctx context.Context, symbol string, ref *models.Reference) error
	Close() error
}
