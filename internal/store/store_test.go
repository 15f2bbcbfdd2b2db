package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &Store{db: db}, mock
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
}

func TestLoadSettingsSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"name", "value"}).
		AddRow("api-key", "abc").
		AddRow("mapping-1", "42").
		AddRow("debug", nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, value FROM settings")).WillReturnRows(rows)

	values, err := s.LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("LoadSettings returned error: %v", err)
	}
	if values["api-key"] != "abc" || values["mapping-1"] != "42" {
		t.Fatalf("unexpected values: %#v", values)
	}
	if v, ok := values["debug"]; !ok || v != "" {
		t.Fatalf("expected NULL value to load as empty string, got %q (present=%t)", v, ok)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadSettingsQueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, value FROM settings")).WillReturnError(errors.New("boom"))

	if _, err := s.LoadSettings(context.Background()); err == nil {
		t.Fatal("expected error when query fails")
	}
}

func TestSaveSettingsUpsertsInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	upsert := regexp.QuoteMeta("INSERT INTO settings (name, value)")
	mock.ExpectBegin()
	mock.ExpectExec(upsert).WithArgs("access_token", "a2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsert).WithArgs("refresh_token", "r2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.SaveSettings(context.Background(), map[string]string{
		"refresh_token": "r2",
		"access_token":  "a2",
	})
	if err != nil {
		t.Fatalf("SaveSettings returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveSettingsRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO settings (name, value)")).
		WithArgs("api-key", "k").
		WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	if err := s.SaveSettings(context.Background(), map[string]string{"api-key": "k"}); err == nil {
		t.Fatal("expected error when upsert fails")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveSettingsEmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	if err := s.SaveSettings(context.Background(), nil); err != nil {
		t.Fatalf("SaveSettings returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database activity: %v", err)
	}
}

func TestRecordEvent(t *testing.T) {
	s, mock := newMockStore(t)

	tag := "42"
	received := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO membermouse_events")).
		WithArgs("evt-1", "mm_member_add", "a@x.com", "tagged", "42", nil, []byte(`{"email":"a@x.com"}`), received).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordEvent(context.Background(), models.EventRecord{
		ID:         "evt-1",
		EventType:  models.EventMemberAdded,
		Email:      "a@x.com",
		Outcome:    models.OutcomeTagged,
		TagID:      &tag,
		Payload:    models.EventFields{"email": "a@x.com"},
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordEventAssignsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO membermouse_events")).
		WithArgs(sqlmock.AnyArg(), "mm_bundles_add", "", "skipped", nil, nil, []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordEvent(context.Background(), models.EventRecord{
		EventType: models.EventBundleAdded,
		Outcome:   models.OutcomeSkipped,
	})
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
}

func TestListEvents(t *testing.T) {
	s, mock := newMockStore(t)

	received := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "event_type", "email", "outcome", "tag_id", "error", "payload", "received_at"}).
		AddRow("evt-1", "mm_member_add", "a@x.com", "failed", nil, "kit boom", []byte(`{"email":"a@x.com"}`), received)
	mock.ExpectQuery(`SELECT\s+id::text,\s+event_type`).WithArgs(defaultPageSize).WillReturnRows(rows)

	events, err := s.ListEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.TagID != nil {
		t.Fatalf("expected nil tag id, got %q", *ev.TagID)
	}
	if ev.Error == nil || *ev.Error != "kit boom" {
		t.Fatalf("unexpected error column: %v", ev.Error)
	}
	if ev.Payload.Get("email") != "a@x.com" {
		t.Fatalf("unexpected payload: %#v", ev.Payload)
	}
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{db: db}

	mock.ExpectPing().WillReturnError(errors.New("down"))
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
