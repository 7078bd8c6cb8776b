// Package drivetest provides an in-memory Drive v3 server for tests.
package drivetest

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const folderMimeType = "application/vnd.google-apps.folder"

var (
	nameRe    = regexp.MustCompile(`name='((?:[^'\\]|\\.)*)'`)
	parentsRe = regexp.MustCompile(`'((?:[^'\\]|\\.)*)' in parents`)
)

// File is a stored Drive file.
type File struct {
	ID           string
	Name         string
	MimeType     string
	Parents      []string
	Content      []byte
	ModifiedTime time.Time
}

// Server is a fake Drive API. Requests must carry the configured token.
type Server struct {
	*httptest.Server
	Token string

	mu            sync.Mutex
	files         map[string]*File
	seq           int
	requests      []string
	uploadFailure int
	boundaries    []string
}

// NewServer starts a server closed at the end of the test.
func NewServer(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{Token: token, files: make(map[string]*File)}

	r := chi.NewRouter()
	r.Use(s.record, s.auth)
	r.Get("/drive/v3/files", s.handleList)
	r.Post("/drive/v3/files", s.handleCreateFolder)
	r.Get("/drive/v3/files/{id}", s.handleDownload)
	r.Post("/upload/drive/v3/files", s.handleCreate)
	r.Patch("/upload/drive/v3/files/{id}", s.handleUpdate)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// APIBase is the metadata endpoint base.
func (s *Server) APIBase() string { return s.URL + "/drive/v3" }

// UploadBase is the upload endpoint base.
func (s *Server) UploadBase() string { return s.URL + "/upload/drive/v3" }

// FailUploads makes artifact create and update requests answer status.
// Zero restores normal behaviour.
func (s *Server) FailUploads(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadFailure = status
}

// Put stores a file directly and returns its id.
func (s *Server) Put(name, mimeType string, parents []string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(name, mimeType, parents, content)
}

func (s *Server) put(name, mimeType string, parents []string, content []byte) string {
	s.seq++
	id := "file-" + strconv.Itoa(s.seq)
	s.files[id] = &File{
		ID:           id,
		Name:         name,
		MimeType:     mimeType,
		Parents:      parents,
		Content:      content,
		ModifiedTime: s.modTime(),
	}
	return id
}

// modTime is strictly increasing so newest-first ordering is stable.
func (s *Server) modTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
}

// Delete removes a file and, for a folder, everything inside it.
func (s *Server) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delete(id)
}

func (s *Server) delete(id string) {
	delete(s.files, id)
	for childID, f := range s.files {
		if contains(f.Parents, id) {
			s.delete(childID)
		}
	}
}

// Files returns copies of every stored file with the given name.
func (s *Server) Files(name string) []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []File
	for _, f := range s.files {
		if f.Name == name {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Requests returns "METHOD path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Boundaries returns the multipart boundaries of create requests.
func (s *Server) Boundaries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.boundaries...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	wantName := unescape(submatch(nameRe, q))
	wantParent := unescape(submatch(parentsRe, q))
	wantFolder := strings.Contains(q, "mimeType='"+folderMimeType+"'")

	s.mu.Lock()
	var matches []File
	for _, f := range s.files {
		if f.Name != wantName {
			continue
		}
		if wantFolder && f.MimeType != folderMimeType {
			continue
		}
		if wantParent != "" && !contains(f.Parents, wantParent) {
			continue
		}
		matches = append(matches, *f)
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].ModifiedTime.After(matches[j].ModifiedTime) })
	if n, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && n > 0 && len(matches) > n {
		matches = matches[:n]
	}

	files := make([]map[string]string, 0, len(matches))
	for _, f := range matches {
		files = append(files, map[string]string{
			"id":           f.ID,
			"name":         f.Name,
			"modifiedTime": f.ModifiedTime.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var meta struct {
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	id := s.put(meta.Name, meta.MimeType, meta.Parents, nil)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("alt") != "media" {
		writeError(w, http.StatusBadRequest, "alt=media required")
		return
	}
	s.mu.Lock()
	f, ok := s.files[chi.URLParam(r, "id")]
	var content []byte
	if ok {
		content = append([]byte(nil), f.Content...)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	if r.URL.Query().Get("uploadType") != "multipart" {
		writeError(w, http.StatusBadRequest, "uploadType=multipart required")
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		writeError(w, http.StatusBadRequest, "multipart/related required")
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing metadata part")
		return
	}
	var meta struct {
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "bad metadata part")
		return
	}
	contentPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing content part")
		return
	}
	content, err := io.ReadAll(contentPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad content part")
		return
	}

	s.mu.Lock()
	for _, parent := range meta.Parents {
		if _, ok := s.files[parent]; !ok {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "File not found: "+parent)
			return
		}
	}
	s.boundaries = append(s.boundaries, params["boundary"])
	id := s.put(meta.Name, meta.MimeType, meta.Parents, content)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": meta.Name})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	if r.URL.Query().Get("uploadType") != "media" {
		writeError(w, http.StatusBadRequest, "uploadType=media required")
		return
	}
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	f, ok := s.files[chi.URLParam(r, "id")]
	if ok {
		s.seq++
		f.Content = content
		f.ModifiedTime = s.modTime()
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": f.ID})
}

func (s *Server) failing(w http.ResponseWriter) bool {
	s.mu.Lock()
	status := s.uploadFailure
	s.mu.Unlock()
	if status == 0 {
		return false
	}
	writeError(w, status, "injected failure")
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

func unescape(s string) string {
	return strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(s)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
