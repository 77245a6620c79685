package store

// KV is the narrow key-value interface consumed by the cache layer, the
// search-index persistence, the rate limiter and the workflow runner.
// The live implementation wraps the package-level pebble handle; tests
// substitute in-memory or failing fakes.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	ScanPrefix(prefix string, fn func(key string, value []byte) error) error
}

// Live is the pebble-backed KV.
type Live struct{}

func (Live) Get(key string) ([]byte, error)     { return Get(key) }
func (Live) Put(key string, value []byte) error { return Put(key, value) }
func (Live) Delete(key string) error            { return Delete(key) }

func (Live) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	return ScanPrefix(prefix, fn)
}
