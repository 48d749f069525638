package fitness

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/user/liftcoach/internal/runtime"
	"github.com/user/liftcoach/internal/types"
)

var (
	lifter = &types.Principal{ID: "telegram:1"}
	other  = &types.Principal{ID: "telegram:2"}
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	t     *testing.T
	inv   *runtime.Invoker
	clock *clock
	n     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "training.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	reg := runtime.NewRegistry()
	if err := Register(reg, db, c.now); err != nil {
		t.Fatal(err)
	}
	return &harness{t: t, inv: runtime.NewInvoker(reg, nil), clock: c}
}

// call invokes a tool and decodes a successful result into out.
func (h *harness) call(p *types.Principal, name, args string, out any) runtime.ToolCallResult {
	h.t.Helper()
	h.n++
	res := h.inv.Invoke(context.Background(), types.ToolCall{ID: "c" + string(rune('0'+h.n%10)), Name: name, Arguments: args}, p, nil)
	if res.OK() && out != nil {
		if err := json.Unmarshal([]byte(res.Content), out); err != nil {
			h.t.Fatalf("%s: decode %s: %v", name, res.Content, err)
		}
	}
	return res
}

func (h *harness) mustCall(p *types.Principal, name, args string, out any) {
	h.t.Helper()
	if res := h.call(p, name, args, out); !res.OK() {
		h.t.Fatalf("%s: expected ok, got %s %s", name, res.Status, res.Content)
	}
}

func TestLogMovementAndListSessions(t *testing.T) {
	h := newHarness(t)

	var squat LoggedMovement
	h.mustCall(lifter, "log_movement", `{"movement":"Squat","reps":5,"sets":3,"weight_kg":100}`, &squat)
	if squat.Movement != "back squat" || squat.Sets != 3 || squat.WeightKg != 100 {
		t.Errorf("unexpected logged movement %+v", squat)
	}
	var bench LoggedMovement
	h.mustCall(lifter, "log_movement", `{"movement":"bench","reps":8}`, &bench)
	if bench.Sets != 1 {
		t.Errorf("sets should default to 1, got %d", bench.Sets)
	}
	if bench.SessionID != squat.SessionID {
		t.Error("movements on the same day should share a session")
	}

	h.clock.t = h.clock.t.Add(48 * time.Hour)
	h.mustCall(lifter, "log_movement", `{"movement":"deadlift","reps":3,"weight_kg":180}`, nil)

	var sessions []Session
	h.mustCall(lifter, "list_sessions", `{}`, &sessions)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Date != "2026-03-04" || sessions[1].Date != "2026-03-02" {
		t.Errorf("expected newest first, got %s, %s", sessions[0].Date, sessions[1].Date)
	}
	if len(sessions[1].Movements) != 2 || sessions[1].Movements[1].Movement != "bench press" {
		t.Errorf("unexpected movements %+v", sessions[1].Movements)
	}

	h.mustCall(lifter, "list_sessions", `{"limit":1}`, &sessions)
	if len(sessions) != 1 {
		t.Errorf("expected limit to apply, got %d", len(sessions))
	}
	h.mustCall(lifter, "list_sessions", `{"movement":"rdl"}`, &sessions)
	if len(sessions) != 0 {
		t.Errorf("expected no sessions with rdl, got %d", len(sessions))
	}
	h.mustCall(lifter, "list_sessions", `{"movement":"dl"}`, &sessions)
	if len(sessions) != 1 || sessions[0].Date != "2026-03-04" {
		t.Errorf("expected the deadlift session, got %+v", sessions)
	}

	h.mustCall(other, "list_sessions", `{}`, &sessions)
	if len(sessions) != 0 {
		t.Errorf("sessions leaked across lifters: %+v", sessions)
	}
}

func TestLogMovementRejectsUnknownMovement(t *testing.T) {
	h := newHarness(t)

	res := h.call(lifter, "log_movement", `{"movement":"kettlebell juggling","reps":5,"rpe":11}`, nil)
	if res.Status != runtime.StatusInvalid {
		t.Fatalf("expected invalid, got %s %s", res.Status, res.Content)
	}
	if !strings.Contains(res.Content, "movement_catalog") || !strings.Contains(res.Content, "/rpe") {
		t.Errorf("expected both problems reported, got %s", res.Content)
	}
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)

	var m LoggedMovement
	h.mustCall(lifter, "log_movement", `{"movement":"plank","reps":1}`, &m)

	if res := h.call(other, "delete_session", `{"id":"`+m.SessionID+`"}`, nil); res.Content != `{"error":"SessionNotFound"}` {
		t.Errorf("other lifters must not delete sessions, got %s", res.Content)
	}
	var d Deleted
	h.mustCall(lifter, "delete_session", `"`+m.SessionID+`"`, &d)
	if !d.Deleted || d.ID != m.SessionID {
		t.Errorf("unexpected result %+v", d)
	}
	var sessions []Session
	h.mustCall(lifter, "list_sessions", `{}`, &sessions)
	if len(sessions) != 0 {
		t.Errorf("expected session gone, got %+v", sessions)
	}
}

func TestPrograms(t *testing.T) {
	h := newHarness(t)

	var p Program
	h.mustCall(lifter, "create_program", `{"name":"5/3/1","days_per_week":4}`, &p)
	if p.ID == "" || p.DaysPerWeek != 4 {
		t.Fatalf("unexpected program %+v", p)
	}

	if res := h.call(lifter, "create_program", `{"name":"5/3/1","days_per_week":3}`, nil); res.Content != `{"error":"ProgramExists"}` {
		t.Errorf("expected conflict, got %s", res.Content)
	}
	if res := h.call(lifter, "create_program", `{"name":"GZCL","days_per_week":9}`, nil); res.Status != runtime.StatusInvalid {
		t.Errorf("expected days_per_week bound check, got %s", res.Status)
	}

	var got Program
	h.mustCall(lifter, "get_program", `{"id":"`+p.ID+`"}`, &got)
	if got.Name != "5/3/1" {
		t.Errorf("unexpected program %+v", got)
	}
	if res := h.call(other, "get_program", `{"id":"`+p.ID+`"}`, nil); res.Content != `{"error":"ProgramNotFound"}` {
		t.Errorf("expected ProgramNotFound for another lifter, got %s", res.Content)
	}

	var list []Program
	h.mustCall(lifter, "list_programs", ``, &list)
	if len(list) != 1 {
		t.Errorf("expected 1 program, got %d", len(list))
	}

	var m LoggedMovement
	h.mustCall(lifter, "log_movement", `{"movement":"ohp","reps":5,"program_id":"`+p.ID+`"}`, &m)
	var sessions []Session
	h.mustCall(lifter, "list_sessions", `{}`, &sessions)
	if len(sessions) != 1 || sessions[0].ProgramID != p.ID {
		t.Errorf("expected session under program, got %+v", sessions)
	}
	if res := h.call(lifter, "log_movement", `{"movement":"ohp","reps":5,"program_id":"nope"}`, nil); res.Content != `{"error":"ProgramNotFound"}` {
		t.Errorf("expected ProgramNotFound, got %s", res.Content)
	}
}

func TestPersonalRecords(t *testing.T) {
	h := newHarness(t)
	h.mustCall(lifter, "log_movement", `{"movement":"squat","reps":5,"weight_kg":100}`, nil)
	h.mustCall(lifter, "log_movement", `{"movement":"squat","reps":3,"weight_kg":110}`, nil)
	h.mustCall(lifter, "log_movement", `{"movement":"squat","reps":1,"weight_kg":110}`, nil)
	h.mustCall(lifter, "log_movement", `{"movement":"bench","reps":5,"weight_kg":80}`, nil)
	h.mustCall(lifter, "log_movement", `{"movement":"pull-up","reps":10}`, nil)

	var records []PersonalRecord
	h.mustCall(lifter, "personal_records", `{}`, &records)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %+v", records)
	}
	squat := records[0]
	if squat.Movement != "back squat" || squat.WeightKg != 110 || squat.Reps != 3 || squat.EstimatedOneRepMax != 121 {
		t.Errorf("unexpected squat record %+v", squat)
	}

	h.mustCall(lifter, "personal_records", `{"movement":"bench press"}`, &records)
	if len(records) != 1 || records[0].Movement != "bench press" {
		t.Errorf("unexpected filtered records %+v", records)
	}
}

func TestNotes(t *testing.T) {
	h := newHarness(t)

	var saved SavedNote
	h.mustCall(lifter, "save_note", `{"content":"left knee sore on deep squats"}`, &saved)
	if saved.AlreadyExists {
		t.Error("first save should be new")
	}
	h.mustCall(lifter, "save_note", `{"content":"  left knee sore on deep squats "}`, &saved)
	if !saved.AlreadyExists {
		t.Error("duplicate save should report existing note")
	}
	if res := h.call(lifter, "save_note", `{"content":"   "}`, nil); res.Status != runtime.StatusError {
		t.Errorf("expected error for empty note, got %s", res.Status)
	}

	var notes []Note
	h.mustCall(lifter, "list_notes", ``, &notes)
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	h.mustCall(other, "list_notes", ``, &notes)
	if len(notes) != 0 {
		t.Errorf("notes leaked across lifters")
	}

	h.mustCall(lifter, "delete_note", `{"id":"`+saved.Note.ID+`"}`, nil)
	if res := h.call(lifter, "delete_note", `{"id":"`+saved.Note.ID+`"}`, nil); res.Content != `{"error":"NoteNotFound"}` {
		t.Errorf("expected NoteNotFound, got %s", res.Content)
	}
}

func TestAnonymousAccess(t *testing.T) {
	h := newHarness(t)

	var catalog []Movement
	h.mustCall(nil, "movement_catalog", ``, &catalog)
	if len(catalog) == 0 {
		t.Error("expected catalog entries")
	}
	for _, name := range []string{"list_programs", "log_movement", "list_notes"} {
		if res := h.call(nil, name, `{"movement":"squat","reps":1}`, nil); res.Status != runtime.StatusUnauthorized {
			t.Errorf("%s: expected unauthorized, got %s", name, res.Status)
		}
	}
}

func TestScopeCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notes").
		WithArgs("telegram:1", "n1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc, release, err := Scope(db, nil)(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	callErr := svc.DeleteNote(context.Background(), "telegram:1", "n1")
	if err := release(callErr); err != nil {
		t.Errorf("unexpected release error: %v", err)
	}

	if callErr != nil {
		t.Errorf("unexpected error: %v", callErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScopeRollsBackFailedCall(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	reg := runtime.NewRegistry()
	if err := Register(reg, db, nil); err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notes").
		WithArgs("telegram:1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	res := runtime.NewInvoker(reg, nil).Invoke(context.Background(),
		types.ToolCall{ID: "c1", Name: "delete_note", Arguments: `{"id":"missing"}`}, lifter, nil)
	if res.Content != `{"error":"NoteNotFound"}` {
		t.Errorf("unexpected result %s", res.Content)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScopeCommitFailureFailsCall(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	reg := runtime.NewRegistry()
	if err := Register(reg, db, nil); err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notes").
		WithArgs("telegram:1", "n1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	res := runtime.NewInvoker(reg, nil).Invoke(context.Background(),
		types.ToolCall{ID: "c1", Name: "delete_note", Arguments: `{"id":"n1"}`}, lifter, nil)
	if res.Status != runtime.StatusError {
		t.Fatalf("expected error status, got %s: %s", res.Status, res.Content)
	}
	if res.Content != `{"error":"ReleaseError"}` {
		t.Errorf("unexpected result %s", res.Content)
	}
	if strings.Contains(res.Content, "disk") {
		t.Errorf("driver error leaked to the model: %s", res.Content)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScopeBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	if _, _, err := Scope(db, nil)(context.Background()); err == nil {
		t.Error("expected begin error")
	}
}

func TestEstimateOneRepMax(t *testing.T) {
	tests := []struct {
		weight float64
		reps   int
		want   float64
	}{
		{100, 1, 100},
		{100, 0, 100},
		{100, 5, 116.5},
		{110, 3, 121},
		{60, 10, 80},
	}
	for _, tt := range tests {
		if got := EstimateOneRepMax(tt.weight, tt.reps); got != tt.want {
			t.Errorf("EstimateOneRepMax(%v, %d) = %v, want %v", tt.weight, tt.reps, got, tt.want)
		}
	}
}

func TestLookupMovement(t *testing.T) {
	for _, name := range []string{"Back Squat", " squat ", "LOW BAR SQUAT"} {
		m, ok := LookupMovement(name)
		if !ok || m.Name != "back squat" {
			t.Errorf("LookupMovement(%q) = %+v, %v", name, m, ok)
		}
	}
	if _, ok := LookupMovement("curl"); ok {
		t.Error("expected curl to be unknown")
	}
}
