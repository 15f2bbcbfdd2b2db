package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

type mockEventLister struct {
	lastLimit int
	events    []models.EventRecord
	err       error
}

func (m *mockEventLister) ListEvents(ctx context.Context, limit int) ([]models.EventRecord, error) {
	m.lastLimit = limit
	return m.events, m.err
}

func TestEventsHandler(t *testing.T) {
	lister := &mockEventLister{
		events: []models.EventRecord{{
			ID:         "evt-1",
			EventType:  models.EventMemberAdded,
			Email:      "a@x.com",
			Outcome:    models.OutcomeTagged,
			ReceivedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=5", nil)
	rr := httptest.NewRecorder()

	Events(lister).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if lister.lastLimit != 5 {
		t.Fatalf("expected limit 5 got %d", lister.lastLimit)
	}
	if !strings.Contains(rr.Body.String(), `"id":"evt-1"`) {
		t.Fatalf("expected event in body, got %s", rr.Body.String())
	}
}

func TestEventsHandlerEmpty(t *testing.T) {
	rr := httptest.NewRecorder()
	Events(&mockEventLister{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"events":[]`) {
		t.Fatalf("expected empty list, got %s", rr.Body.String())
	}
}

func TestEventsHandlerErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	Events(&mockEventLister{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/events?limit=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	Events(&mockEventLister{err: errors.New("db down")}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}
