// shipper.go forwards audit entries to external destinations (a SIEM HTTP
// collector, a local file) in addition to the database. Shipping is strictly
// best-effort and secondary to the database write; a broken destination never
// affects the primary log.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/adminguard/adminguard/internal/db/models"
)

// Shipper forwards audit entries to an external destination.
type Shipper interface {
	Ship(ctx context.Context, entry *models.AuditLogEntry) error
	Close() error
}

// ShipperConfig describes one configured destination.
type ShipperConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Type    string            `mapstructure:"type"` // "http" or "file"
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Path    string            `mapstructure:"path"`
}

// NewMultiShipper builds a shipper fanning out to every enabled destination.
// Returns (nil, nil) when no destination is enabled so callers can pass the
// result straight to NewSecurityLogger.
func NewMultiShipper(configs []ShipperConfig) (Shipper, error) {
	shippers := make([]Shipper, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		switch cfg.Type {
		case "http":
			if cfg.URL == "" {
				return nil, fmt.Errorf("audit shipper: http destination requires url")
			}
			shippers = append(shippers, NewHTTPShipper(cfg))
		case "file":
			if cfg.Path == "" {
				return nil, fmt.Errorf("audit shipper: file destination requires path")
			}
			fs, err := NewFileShipper(cfg.Path)
			if err != nil {
				return nil, err
			}
			shippers = append(shippers, fs)
		default:
			return nil, fmt.Errorf("audit shipper: unknown type %q", cfg.Type)
		}
	}

	if len(shippers) == 0 {
		return nil, nil
	}
	return &multiShipper{shippers: shippers}, nil
}

type multiShipper struct {
	shippers []Shipper
}

// Ship fans out to every destination; the last error is returned but earlier
// destinations are always attempted.
func (m *multiShipper) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	var lastErr error
	for _, s := range m.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *multiShipper) Close() error {
	var lastErr error
	for _, s := range m.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// HTTPShipper POSTs each entry as JSON to a collector endpoint.
type HTTPShipper struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPShipper creates an HTTPShipper with a bounded request timeout.
func NewHTTPShipper(cfg ShipperConfig) *HTTPShipper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPShipper{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ship implements Shipper.
func (s *HTTPShipper) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit shipper: marshal entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("audit shipper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit shipper: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit shipper: collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Close implements Shipper.
func (s *HTTPShipper) Close() error { return nil }

// FileShipper appends entries as JSON lines to a local file.
type FileShipper struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the destination file for appending.
func NewFileShipper(path string) (*FileShipper, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit shipper: open %s: %w", path, err)
	}
	return &FileShipper{file: f}, nil
}

// Ship implements Shipper.
func (s *FileShipper) Ship(_ context.Context, entry *models.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit shipper: marshal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit shipper: write: %w", err)
	}
	return nil
}

// Close implements Shipper.
func (s *FileShipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
