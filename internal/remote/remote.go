// Package remote stores the single shared sync archive in a remote service.
//
// A backend keeps exactly one artifact, named ArtifactName, inside one
// container. Uploads overwrite that artifact in place when it exists so
// that repeated syncs never accumulate duplicates. Backends perform no
// retries; every non-success response surfaces as an *HTTPError.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ArtifactName is the fixed name of the synced archive. Changing it breaks
// interoperability with previously synced datasets.
const ArtifactName = "ledger-sync.zip"

// Artifact identifies the remote archive.
type Artifact struct {
	ID           string    `json:"id"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// Store is a remote backend holding one archive per container.
type Store interface {
	// EnsureContainer returns the container id, creating the container
	// when it does not exist yet.
	EnsureContainer(ctx context.Context) (string, error)

	// LocateArtifact returns the archive in the container, or nil when
	// none has been uploaded yet.
	LocateArtifact(ctx context.Context, containerID string) (*Artifact, error)

	// Download returns the raw archive bytes.
	Download(ctx context.Context, artifactID string) ([]byte, error)

	// Upload replaces the archive content, creating it when absent.
	Upload(ctx context.Context, containerID string, data []byte) error
}

// IDCache durably maps lookup keys to remote ids. An unknown key yields "".
type IDCache interface {
	GetRemoteID(ctx context.Context, key string) (string, error)
	SetRemoteID(ctx context.Context, key, id string) error
}

// ErrUnknownBackend is returned for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown remote backend")

// HTTPError is the single error kind for unsuccessful remote responses.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is a transient remote or transport failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Temporary()
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// cachedID reads key from cache, treating a nil cache as empty.
func cachedID(ctx context.Context, cache IDCache, key string) (string, error) {
	if cache == nil {
		return "", nil
	}
	return cache.GetRemoteID(ctx, key)
}
