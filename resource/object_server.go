package resource

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Reader reads a resource by absolute path.
type Reader interface {
	ReadFile(ctx context.Context, fullPath string) ([]byte, error)
}

// DirReader reads resources from the local file system. Full paths are
// interpreted under Root when it is set.
type DirReader struct {
	Root string
}

// ReadFile reads fullPath. A missing file reports ErrNotFound.
func (d DirReader) ReadFile(ctx context.Context, fullPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean("/" + strings.ReplaceAll(fullPath, `\`, "/"))
	target := filepath.FromSlash(clean)
	if d.Root != "" {
		target = filepath.Join(d.Root, target)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", fullPath, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

type object struct {
	fullPath    string
	contentType string
	data        []byte
}

// ObjectServer mints URLs for in-memory snapshots of resources and serves
// them over HTTP until revoked, the way a browser serves object URLs.
type ObjectServer struct {
	reader  Reader
	baseURL string

	mu      sync.RWMutex
	objects map[string]object
	router  chi.Router
}

// NewObjectServer creates an ObjectServer whose URLs start with baseURL
// (for example "http://127.0.0.1:7420/objects").
func NewObjectServer(reader Reader, baseURL string) *ObjectServer {
	s := &ObjectServer{
		reader:  reader,
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]object),
	}
	r := chi.NewRouter()
	r.Get("/{token}", s.serveObject)
	s.router = r
	return s
}

// Mint snapshots fullPath and returns its URL.
func (s *ObjectServer) Mint(ctx context.Context, fullPath string) (string, error) {
	data, err := s.reader.ReadFile(ctx, fullPath)
	if err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(path.Ext(fullPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	token := uuid.NewString()

	s.mu.Lock()
	s.objects[token] = object{fullPath: fullPath, contentType: contentType, data: data}
	s.mu.Unlock()
	return s.baseURL + "/" + token, nil
}

// Revoke stops serving url. Unknown URLs are ignored.
func (s *ObjectServer) Revoke(url string) {
	token := strings.TrimPrefix(url, s.baseURL+"/")
	if token == url {
		return
	}
	s.mu.Lock()
	delete(s.objects, token)
	s.mu.Unlock()
}

// Live returns the number of objects currently served.
func (s *ObjectServer) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ServeHTTP serves minted objects. Mount it at the base URL's path.
func (s *ObjectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *ObjectServer) serveObject(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	s.mu.RLock()
	obj, ok := s.objects[token]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	_, _ = w.Write(obj.data)
}
