package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultDriveAPIBase    = "https://www.googleapis.com/drive/v3"
	DefaultDriveUploadBase = "https://www.googleapis.com/upload/drive/v3"

	folderMimeType    = "application/vnd.google-apps.folder"
	artifactMimeType  = "application/zip"
	multipartBoundary = "ledger_sync_boundary"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 64 << 10
)

// DriveConfig configures the Drive backend.
type DriveConfig struct {
	APIBase       string
	UploadBase    string
	ContainerName string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Drive stores the archive as a file inside a named Drive folder.
type Drive struct {
	token  string
	cfg    DriveConfig
	cache  IDCache
	client *http.Client
}

// NewDrive returns a Drive backend authorised by the bearer token.
func NewDrive(token string, cfg DriveConfig, cache IDCache) *Drive {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultDriveAPIBase
	}
	if cfg.UploadBase == "" {
		cfg.UploadBase = DefaultDriveUploadBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.UploadBase = strings.TrimRight(cfg.UploadBase, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Drive{token: token, cfg: cfg, cache: cache, client: client}
}

func (d *Drive) cacheKey() string {
	return "drive:folder:" + d.cfg.ContainerName
}

// EnsureContainer returns the cached folder id, or finds or creates the
// folder and caches its id.
func (d *Drive) EnsureContainer(ctx context.Context) (string, error) {
	key := d.cacheKey()
	id, err := cachedID(ctx, d.cache, key)
	if err != nil {
		return "", fmt.Errorf("read cached folder id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	q := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, escapeQuery(d.cfg.ContainerName))
	body, err := d.list(ctx, "find folder", q, "files(id)")
	if err != nil {
		return "", err
	}
	id = gjson.GetBytes(body, "files.0.id").String()

	if id == "" {
		id, err = d.createFolder(ctx)
		if err != nil {
			return "", err
		}
		slog.Info("created remote folder",
			"component", "remote",
			"backend", "drive",
			"folder", d.cfg.ContainerName,
			"folder_id", id,
		)
	}

	if d.cache != nil {
		if err := d.cache.SetRemoteID(ctx, key, id); err != nil {
			slog.Warn("failed to cache folder id",
				"component", "remote",
				"backend", "drive",
				"error", err,
			)
		}
	}
	return id, nil
}

func (d *Drive) createFolder(ctx context.Context) (string, error) {
	meta, err := json.Marshal(map[string]string{
		"name":     d.cfg.ContainerName,
		"mimeType": folderMimeType,
	})
	if err != nil {
		return "", fmt.Errorf("encode folder metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.APIBase+"/files?fields=id", bytes.NewReader(meta))
	if err != nil {
		return "", fmt.Errorf("build create folder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	body, err := d.do(req, "create folder")
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", fmt.Errorf("create folder: response has no id")
	}
	return id, nil
}

// LocateArtifact finds the archive in the folder. The most recently
// modified match is used if duplicates exist.
func (d *Drive) LocateArtifact(ctx context.Context, containerID string) (*Artifact, error) {
	q := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", escapeQuery(containerID), ArtifactName)
	body, err := d.list(ctx, "find artifact", q, "files(id,modifiedTime)")
	if err != nil {
		return nil, err
	}

	file := gjson.GetBytes(body, "files.0")
	if !file.Exists() || file.Get("id").String() == "" {
		return nil, nil
	}

	art := &Artifact{ID: file.Get("id").String()}
	if mt := file.Get("modifiedTime").String(); mt != "" {
		if t, err := time.Parse(time.RFC3339Nano, mt); err == nil {
			art.ModifiedTime = t.UTC()
		}
	}
	return art, nil
}

// Download fetches the raw archive bytes.
func (d *Drive) Download(ctx context.Context, artifactID string) ([]byte, error) {
	u := fmt.Sprintf("%s/files/%s?alt=media", d.cfg.APIBase, url.PathEscape(artifactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	return d.do(req, "download")
}

// Upload overwrites the archive in place, or creates it with a multipart
// request when the folder has none. When Drive reports the folder or file
// missing, the cached folder id is forgotten and the folder is resolved
// again once.
func (d *Drive) Upload(ctx context.Context, containerID string, data []byte) error {
	err := d.upload(ctx, containerID, data)
	if !isNotFound(err) {
		return err
	}

	slog.Warn("remote folder missing, resolving again",
		"component", "remote",
		"backend", "drive",
		"folder_id", containerID,
		"error", err,
	)
	if err := d.forgetContainer(ctx); err != nil {
		return err
	}
	containerID, err = d.EnsureContainer(ctx)
	if err != nil {
		return err
	}
	return d.upload(ctx, containerID, data)
}

func (d *Drive) forgetContainer(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	if err := d.cache.SetRemoteID(ctx, d.cacheKey(), ""); err != nil {
		return fmt.Errorf("forget cached folder id: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

func (d *Drive) upload(ctx context.Context, containerID string, data []byte) error {
	art, err := d.LocateArtifact(ctx, containerID)
	if err != nil {
		return err
	}
	if art != nil {
		return d.update(ctx, art.ID, data)
	}
	return d.create(ctx, containerID, data)
}

func (d *Drive) update(ctx context.Context, artifactID string, data []byte) error {
	u := fmt.Sprintf("%s/files/%s?uploadType=media", d.cfg.UploadBase, url.PathEscape(artifactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Content-Type", artifactMimeType)

	_, err = d.do(req, "update artifact")
	return err
}

func (d *Drive) create(ctx context.Context, containerID string, data []byte) error {
	body, contentType, err := multipartBody(containerID, data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.UploadBase+"/files?uploadType=multipart", body)
	if err != nil {
		return fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	_, err = d.do(req, "create artifact")
	return err
}

// multipartBody builds the metadata-plus-content body for artifact creation.
func multipartBody(containerID string, data []byte) (*bytes.Buffer, string, error) {
	meta, err := json.Marshal(map[string]any{
		"name":     ArtifactName,
		"parents":  []string{containerID},
		"mimeType": artifactMimeType,
	})
	if err != nil {
		return nil, "", fmt.Errorf("encode artifact metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(multipartBoundary); err != nil {
		return nil, "", fmt.Errorf("set boundary: %w", err)
	}

	parts := []struct {
		contentType string
		content     []byte
	}{
		{"application/json; charset=UTF-8", meta},
		{artifactMimeType, data},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, "", fmt.Errorf("create part: %w", err)
		}
		if _, err := w.Write(p.content); err != nil {
			return nil, "", fmt.Errorf("write part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}

	return &buf, "multipart/related; boundary=" + multipartBoundary, nil
}

func (d *Drive) list(ctx context.Context, op, query, fields string) ([]byte, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", "1")
	params.Set("fields", fields)
	params.Set("orderBy", "modifiedTime desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.APIBase+"/files?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	return d.do(req, op)
}

// do sends req with the bearer token and returns the body of a 2xx response.
func (d *Drive) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+d.token)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote %s: read body: %w", op, err)
	}

	slog.Debug("remote request",
		"component", "remote",
		"backend", "drive",
		"action", op,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return body, nil
}

// escapeQuery escapes a value for a single-quoted Drive query literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
