package jstp

import "context"

// Storage is a key-value store used to persist sessions across process
// restarts. Implementations live in the storage package.
type Storage interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get returns def when key is not present.
	Get(ctx context.Context, key string, def []byte) ([]byte, error)
}
