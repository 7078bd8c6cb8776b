package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hyperengineering/ledger/internal/remote"
	"github.com/hyperengineering/ledger/internal/remote/drivetest"
)

const testToken = "test-token"

// memCache is an in-memory remote.IDCache.
type memCache struct {
	mu   sync.Mutex
	ids  map[string]string
	sets int
}

func newMemCache() *memCache { return &memCache{ids: make(map[string]string)} }

func (c *memCache) GetRemoteID(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[key], nil
}

func (c *memCache) SetRemoteID(_ context.Context, key, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[key] = id
	c.sets++
	return nil
}

func newDrive(srv *drivetest.Server, token string, cache remote.IDCache) *remote.Drive {
	return remote.NewDrive(token, remote.DriveConfig{
		APIBase:       srv.APIBase(),
		UploadBase:    srv.UploadBase(),
		ContainerName: "Ledger Sync",
	}, cache)
}

func countRequests(reqs []string, prefix string) int {
	n := 0
	for _, r := range reqs {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func TestDrive_EnsureContainer_CreatesAndCaches(t *testing.T) {
	// Given: A Drive with no folder yet
	srv := drivetest.NewServer(t, testToken)
	cache := newMemCache()
	d := newDrive(srv, testToken, cache)
	ctx := context.Background()

	// When: EnsureContainer is called twice
	first, err := d.EnsureContainer(ctx)
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	second, err := d.EnsureContainer(ctx)
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}

	// Then: One folder was created and the second call used the cache
	if first == "" || first != second {
		t.Errorf("ids = %q, %q", first, second)
	}
	if got := len(srv.Files("Ledger Sync")); got != 1 {
		t.Errorf("folders = %d, want 1", got)
	}
	if got := len(srv.Requests()); got != 2 {
		t.Errorf("requests = %v, want one lookup and one create", srv.Requests())
	}
	if cache.ids["drive:folder:Ledger Sync"] != first {
		t.Errorf("cache = %v", cache.ids)
	}
}

func TestDrive_EnsureContainer_FindsExisting(t *testing.T) {
	srv := drivetest.NewServer(t, testToken)
	existing := srv.Put("Ledger Sync", "application/vnd.google-apps.folder", nil, nil)
	srv.Put("Ledger Sync", "text/plain", nil, []byte("a file, not a folder"))

	id, err := newDrive(srv, testToken, newMemCache()).EnsureContainer(context.Background())
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}

	if id != existing {
		t.Errorf("id = %q, want %q", id, existing)
	}
	if n := countRequests(srv.Requests(), "POST"); n != 0 {
		t.Errorf("unexpected create requests: %v", srv.Requests())
	}
}

func TestDrive_EnsureContainer_EscapesName(t *testing.T) {
	srv := drivetest.NewServer(t, testToken)
	existing := srv.Put("Bob's Books", "application/vnd.google-apps.folder", nil, nil)

	d := remote.NewDrive(testToken, remote.DriveConfig{
		APIBase:       srv.APIBase(),
		UploadBase:    srv.UploadBase(),
		ContainerName: "Bob's Books",
	}, nil)

	id, err := d.EnsureContainer(context.Background())
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	if id != existing {
		t.Errorf("id = %q, want %q", id, existing)
	}
}

func TestDrive_LocateArtifact_NoneOnFirstSync(t *testing.T) {
	srv := drivetest.NewServer(t, testToken)
	d := newDrive(srv, testToken, nil)
	ctx := context.Background()

	folder, err := d.EnsureContainer(ctx)
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}

	art, err := d.LocateArtifact(ctx, folder)
	if err != nil {
		t.Fatalf("LocateArtifact: %v", err)
	}
	if art != nil {
		t.Errorf("artifact = %+v, want nil", art)
	}
}

func TestDrive_Upload_CreateThenUpdateInPlace(t *testing.T) {
	// Given: An empty folder
	srv := drivetest.NewServer(t, testToken)
	d := newDrive(srv, testToken, newMemCache())
	ctx := context.Background()
	folder, err := d.EnsureContainer(ctx)
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}

	// When: Uploading twice
	if err := d.Upload(ctx, folder, []byte("v1")); err != nil {
		t.Fatalf("Upload v1: %v", err)
	}
	first, err := d.LocateArtifact(ctx, folder)
	if err != nil || first == nil {
		t.Fatalf("LocateArtifact = %v, %v", first, err)
	}
	if err := d.Upload(ctx, folder, []byte("v2")); err != nil {
		t.Fatalf("Upload v2: %v", err)
	}

	// Then: Exactly one artifact exists, with the same id and new content
	files := srv.Files(remote.ArtifactName)
	if len(files) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(files))
	}
	if files[0].ID != first.ID {
		t.Errorf("artifact id changed: %q -> %q", first.ID, files[0].ID)
	}
	if string(files[0].Content) != "v2" {
		t.Errorf("content = %q, want v2", files[0].Content)
	}
	if len(files[0].Parents) != 1 || files[0].Parents[0] != folder {
		t.Errorf("parents = %v, want [%s]", files[0].Parents, folder)
	}
	if b := srv.Boundaries(); len(b) != 1 || b[0] != "ledger_sync_boundary" {
		t.Errorf("boundaries = %v", b)
	}
	if n := countRequests(srv.Requests(), "PATCH /upload/drive/v3/files/"); n != 1 {
		t.Errorf("PATCH requests = %d, want 1", n)
	}

	// And: Download returns the latest bytes
	got, err := d.Download(ctx, first.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Download = %q, want v2", got)
	}
}

func TestDrive_Upload_RecreatesDeletedFolder(t *testing.T) {
	// Given: A cached folder that was deleted on the remote side
	srv := drivetest.NewServer(t, testToken)
	cache := newMemCache()
	d := newDrive(srv, testToken, cache)
	ctx := context.Background()
	stale, err := d.EnsureContainer(ctx)
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	if err := d.Upload(ctx, stale, []byte("v1")); err != nil {
		t.Fatalf("Upload v1: %v", err)
	}
	srv.Delete(stale)

	// When: Uploading against the stale id
	if err := d.Upload(ctx, stale, []byte("v2")); err != nil {
		t.Fatalf("Upload v2: %v", err)
	}

	// Then: A new folder was created, cached and holds the archive
	fresh := cache.ids["drive:folder:Ledger Sync"]
	if fresh == "" || fresh == stale {
		t.Fatalf("cached folder = %q, want a new id (stale %q)", fresh, stale)
	}
	files := srv.Files(remote.ArtifactName)
	if len(files) != 1 || string(files[0].Content) != "v2" {
		t.Fatalf("artifacts = %+v, want one with v2", files)
	}
	if len(files[0].Parents) != 1 || files[0].Parents[0] != fresh {
		t.Errorf("parents = %v, want [%s]", files[0].Parents, fresh)
	}

	// And: Later calls use the new folder without another lookup
	again, err := d.EnsureContainer(ctx)
	if err != nil || again != fresh {
		t.Errorf("EnsureContainer = %q, %v; want %q", again, err, fresh)
	}
}

func TestDrive_Upload_MissingFolderWithoutCache(t *testing.T) {
	srv := drivetest.NewServer(t, testToken)
	d := newDrive(srv, testToken, nil)

	err := d.Upload(context.Background(), "gone", []byte("data"))

	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := len(srv.Files("Ledger Sync")); got != 1 {
		t.Errorf("folders = %d, want 1", got)
	}
}

func TestDrive_LocateArtifact_PrefersNewest(t *testing.T) {
	srv := drivetest.NewServer(t, testToken)
	folder := srv.Put("Ledger Sync", "application/vnd.google-apps.folder", nil, nil)
	srv.Put(remote.ArtifactName, "application/zip", []string{folder}, []byte("old"))
	newest := srv.Put(remote.ArtifactName, "application/zip", []string{folder}, []byte("new"))
	srv.Put(remote.ArtifactName, "application/zip", []string{"other-folder"}, []byte("elsewhere"))

	art, err := newDrive(srv, testToken, nil).LocateArtifact(context.Background(), folder)
	if err != nil {
		t.Fatalf("LocateArtifact: %v", err)
	}
	if art == nil || art.ID != newest {
		t.Fatalf("artifact = %+v, want %s", art, newest)
	}
	if art.ModifiedTime.IsZero() {
		t.Error("ModifiedTime not parsed")
	}
}

func TestDrive_ErrorsCarryStatusAndBody(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		failUpload int
		call       func(d *remote.Drive, folder string) error
		wantStatus int
	}{
		{
			name:  "bad token",
			token: "wrong",
			call: func(d *remote.Drive, _ string) error {
				_, err := d.EnsureContainer(context.Background())
				return err
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:  "missing artifact",
			token: testToken,
			call: func(d *remote.Drive, _ string) error {
				_, err := d.Download(context.Background(), "nope")
				return err
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "upload rejected",
			token:      testToken,
			failUpload: http.StatusServiceUnavailable,
			call: func(d *remote.Drive, folder string) error {
				return d.Upload(context.Background(), folder, []byte("data"))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := drivetest.NewServer(t, testToken)
			folder := srv.Put("Ledger Sync", "application/vnd.google-apps.folder", nil, nil)
			srv.FailUploads(tt.failUpload)

			err := tt.call(newDrive(srv, tt.token, nil), folder)

			var he *remote.HTTPError
			if !errors.As(err, &he) {
				t.Fatalf("err = %v, want *remote.HTTPError", err)
			}
			if he.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", he.StatusCode, tt.wantStatus)
			}
			if he.Body == "" {
				t.Error("Body is empty")
			}
		})
	}
}

func TestDrive_SendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"files":[{"id":"folder-9"}]}`))
	}))
	defer srv.Close()

	d := remote.NewDrive("abc123", remote.DriveConfig{APIBase: srv.URL, ContainerName: "x"}, nil)
	id, err := d.EnsureContainer(context.Background())
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	if id != "folder-9" {
		t.Errorf("id = %q", id)
	}
	if got != "Bearer abc123" {
		t.Errorf("Authorization = %q", got)
	}
}
