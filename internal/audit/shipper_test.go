package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adminguard/adminguard/internal/db/models"
)

func sampleEntry() *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ID:          1,
		UserID:      strPtr("u-1"),
		Action:      ActionSettingsSaved,
		Description: "settings saved",
		Status:      models.AuditStatusSuccess,
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// NewMultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_NoneEnabled(t *testing.T) {
	s, err := NewMultiShipper([]ShipperConfig{
		{Enabled: false, Type: "http", URL: "https://siem.example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Error("disabled destinations should yield a nil shipper")
	}
}

func TestNewMultiShipper_ValidationErrors(t *testing.T) {
	cases := []ShipperConfig{
		{Enabled: true, Type: "http"},                 // missing url
		{Enabled: true, Type: "file"},                 // missing path
		{Enabled: true, Type: "syslog", URL: "x"},     // unknown type
	}
	for _, cfg := range cases {
		if _, err := NewMultiShipper([]ShipperConfig{cfg}); err == nil {
			t.Errorf("config %+v: expected error", cfg)
		}
	}
}

// ---------------------------------------------------------------------------
// HTTPShipper
// ---------------------------------------------------------------------------

func TestHTTPShipper_PostsEntry(t *testing.T) {
	var got struct {
		auth string
		body map[string]interface{}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPShipper(ShipperConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer collector-token"},
	})
	if err := s.Ship(context.Background(), sampleEntry()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.auth != "Bearer collector-token" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.body["action"] != ActionSettingsSaved {
		t.Errorf("action = %v", got.body["action"])
	}
}

func TestHTTPShipper_CollectorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPShipper(ShipperConfig{URL: srv.URL})
	if err := s.Ship(context.Background(), sampleEntry()); err == nil {
		t.Error("expected error for 5xx collector response")
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewFileShipper(path)
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Ship(context.Background(), sampleEntry()); err != nil {
			t.Fatalf("Ship: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if entry["action"] != ActionSettingsSaved {
			t.Errorf("line %d action = %v", lines+1, entry["action"])
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("lines = %d, want 3", lines)
	}
}
