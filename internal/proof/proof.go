// Package proof uploads completion photos and hands back their URLs.
//
// Tasks flagged require_photo cannot complete without one; the upload
// happens before the completion mutation so the task row never points at
// a photo that failed to land.
package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Uploader stores a completion photo and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
}

// HTTP uploads photos to the backend's upload endpoint as multipart
// form data.
type HTTP struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTP returns an uploader posting to endpoint, authenticated with
// the session token.
func NewHTTP(endpoint, token string) *HTTP {
	return &HTTP{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HTTP) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	var body strings.Builder
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("photo upload rejected: %s", resp.Status)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload response carried no url")
	}
	return out.URL, nil
}

// Memory keeps uploads in process. Tests use it so completion flows can
// run without a backend.
type Memory struct {
	mu      sync.Mutex
	uploads map[string][]byte
	nextID  int
}

// NewMemory returns an empty in-memory uploader.
func NewMemory() *Memory {
	return &Memory{uploads: make(map[string][]byte)}
}

func (m *Memory) Upload(_ context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	url := fmt.Sprintf("memory://proofs/%d%s", m.nextID, filepath.Ext(localPath))
	m.uploads[url] = data
	return url, nil
}

// Stored returns the bytes uploaded under url.
func (m *Memory) Stored(url string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.uploads[url]
	return data, ok
}
