package remote

import "fmt"

// Backend names.
const (
	BackendDrive = "drive"
	BackendS3    = "s3"
)

// Factory builds a Store for one sync attempt from a bearer token.
type Factory func(token string) (Store, error)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Drive   DriveConfig
	S3      S3Config
}

// NewFactory returns a Factory for the configured backend. Container ids
// are cached in cache across sync attempts.
func NewFactory(cfg Config, cache IDCache) (Factory, error) {
	switch cfg.Backend {
	case BackendDrive, "":
		return func(token string) (Store, error) {
			return NewDrive(token, cfg.Drive, cache), nil
		}, nil
	case BackendS3:
		return func(token string) (Store, error) {
			return NewS3(token, cfg.S3, cache)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
