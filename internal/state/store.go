package state

import "context"

// Store is the durable key/value surface the hedger needs. Exchange clients
// use Get/Set for nonce seeding; List backs operator inspection.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}
