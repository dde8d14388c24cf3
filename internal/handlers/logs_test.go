package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ticket_desk/internal/models"
	"ticket_desk/internal/service"
)

func TestLogsHandler_ListAndValidation(t *testing.T) {
	auth := &mockAuth{parseID: 99}
	now := time.Now().UTC().Truncate(time.Second)
	events := []models.ScanEvent{
		{EventID: "e1", OccurredAt: now, Code: "TICKET-1", Type: models.ResultValid, Message: "VALID", Mode: models.ScanModeOnline},
		{EventID: "e2", OccurredAt: now.Add(1 * time.Second), Code: "TICKET-1", Type: models.ResultUsed, Message: "ALREADY SCANNED", Mode: models.ScanModeOnline},
	}
	logs := &mockEventLog{resp: events}
	s := &service.Service{
		Authorization: auth,
		EventLog:      logs,
	}
	r := newTestRouter(s)

	// Without operator token → 401
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth, got %d", w.Code)
	}

	// Invalid 'from' → 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/logs/?from=notatime", nil)
	req.Header = authHeader("valid")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 invalid 'from', got %d", w.Code)
	}

	// from after to → 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/logs/?from=2025-05-02&to=2025-05-01", nil)
	req.Header = authHeader("valid")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reversed range, got %d", w.Code)
	}

	// Valid range and type; lowercase type is normalized
	w = httptest.NewRecorder()
	q := "/api/v1/logs/?from=" + now.Format(time.RFC3339) + "&to=" + now.Add(2*time.Second).Format(time.RFC3339) + "&type=used"
	req = httptest.NewRequest(http.MethodGet, q, nil)
	req.Header = authHeader("valid")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("logs status=%d, body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Count int                `json:"count"`
		Scans []models.ScanEvent `json:"scans"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 2 || len(out.Scans) != 2 || out.Scans[0].Code != "TICKET-1" {
		t.Fatalf("unexpected response: %+v", out)
	}
	if logs.lastType != "USED" {
		t.Fatalf("expected lastType USED, got %q", logs.lastType)
	}
	if !logs.lastFrom.Equal(now) {
		t.Fatalf("from = %v; want %v", logs.lastFrom, now)
	}
}

func TestLogsHandler_DateOnlyToIsEndOfDay(t *testing.T) {
	logs := &mockEventLog{}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 1}, EventLog: logs})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/?to=2025-05-01", nil)
	req.Header = authHeader("valid")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	want := time.Date(2025, 5, 1, 23, 59, 59, 999999999, time.UTC)
	if !logs.lastTo.Equal(want) {
		t.Fatalf("to = %v; want %v", logs.lastTo, want)
	}
}

func TestLogsHandler_ServiceError(t *testing.T) {
	logs := &mockEventLog{err: errors.New("database is locked")}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 1}, EventLog: logs})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/", nil)
	req.Header = authHeader("valid")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
