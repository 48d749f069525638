package fitness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/liftcoach/internal/runtime"
)

const dateLayout = "2006-01-02"

// Program is a named training plan.
type Program struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	DaysPerWeek int       `json:"days_per_week"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is one day's training, optionally under a program.
type Session struct {
	ID        string           `json:"id"`
	ProgramID string           `json:"program_id,omitempty"`
	Date      string           `json:"date"`
	Movements []LoggedMovement `json:"movements"`
}

// LoggedMovement is one exercise entry within a session.
type LoggedMovement struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Movement  string    `json:"movement"`
	Sets      int       `json:"sets"`
	Reps      int       `json:"reps"`
	WeightKg  float64   `json:"weight_kg"`
	RPE       float64   `json:"rpe,omitempty"`
	Note      string    `json:"note,omitempty"`
	LoggedAt  time.Time `json:"logged_at"`
}

// PersonalRecord is the heaviest logged set of a movement.
type PersonalRecord struct {
	Movement           string  `json:"movement"`
	WeightKg           float64 `json:"weight_kg"`
	Reps               int     `json:"reps"`
	Date               string  `json:"date"`
	EstimatedOneRepMax float64 `json:"estimated_one_rep_max"`
}

// Note is something the coach remembers about a lifter.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Service runs training-log operations inside one transaction.
type Service struct {
	db  dbtx
	now func() time.Time
}

// Scope returns a service factory that opens a transaction per tool call,
// committing when the call succeeds and rolling back when it fails.
func Scope(db *sql.DB, now func() time.Time) runtime.ServiceFactory[*Service] {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (*Service, func(error) error, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("begin transaction: %w", err)
		}
		release := func(callErr error) error {
			if callErr != nil {
				if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
					return fmt.Errorf("rollback transaction: %w", err)
				}
				return nil
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit transaction: %w", err)
			}
			return nil
		}
		return &Service{db: tx, now: now}, release, nil
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ListPrograms returns the owner's programs, newest first.
func (s *Service) ListPrograms(ctx context.Context, owner string) ([]Program, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, days_per_week, created_at FROM programs WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}
	defer rows.Close()

	programs := []Program{}
	for rows.Next() {
		var p Program
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.DaysPerWeek, &created); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		p.CreatedAt = parseTime(created)
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

// CreateProgram adds a program. Names are unique per owner.
func (s *Service) CreateProgram(ctx context.Context, owner string, args CreateProgramArgs) (Program, error) {
	name := strings.TrimSpace(args.Name)
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM programs WHERE owner = ? AND name = ?`, owner, name).Scan(&exists)
	if err != nil {
		return Program{}, fmt.Errorf("check program name: %w", err)
	}
	if exists > 0 {
		return Program{}, &ConflictError{Kind: "Program", Name: name}
	}

	p := Program{
		ID:          uuid.New().String(),
		Name:        name,
		Description: args.Description,
		DaysPerWeek: args.DaysPerWeek,
		CreatedAt:   s.now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO programs (id, owner, name, description, days_per_week, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, owner, p.Name, p.Description, p.DaysPerWeek, formatTime(p.CreatedAt))
	if err != nil {
		return Program{}, fmt.Errorf("insert program: %w", err)
	}
	return p, nil
}

// GetProgram returns one of the owner's programs.
func (s *Service) GetProgram(ctx context.Context, owner, id string) (Program, error) {
	var p Program
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, days_per_week, created_at FROM programs WHERE owner = ? AND id = ?`, owner, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.DaysPerWeek, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Program{}, &NotFoundError{Kind: "Program", ID: id}
	}
	if err != nil {
		return Program{}, fmt.Errorf("query program: %w", err)
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

// LogMovement records a movement in today's session, creating the session
// on first use.
func (s *Service) LogMovement(ctx context.Context, owner string, args LogMovementArgs) (LoggedMovement, error) {
	mv, ok := LookupMovement(args.Movement)
	if !ok {
		return LoggedMovement{}, &NotFoundError{Kind: "Movement", ID: args.Movement}
	}
	if args.ProgramID != "" {
		if _, err := s.GetProgram(ctx, owner, args.ProgramID); err != nil {
			return LoggedMovement{}, err
		}
	}

	now := s.now()
	sessionID, err := s.sessionFor(ctx, owner, args.ProgramID, now)
	if err != nil {
		return LoggedMovement{}, err
	}

	sets := args.Sets
	if sets == 0 {
		sets = 1
	}
	m := LoggedMovement{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Movement:  mv.Name,
		Sets:      sets,
		Reps:      args.Reps,
		WeightKg:  args.WeightKg,
		RPE:       args.RPE,
		Note:      args.Note,
		LoggedAt:  now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO movements (id, session_id, movement, sets, reps, weight_kg, rpe, note, logged_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Movement, m.Sets, m.Reps, m.WeightKg, m.RPE, m.Note, formatTime(m.LoggedAt))
	if err != nil {
		return LoggedMovement{}, fmt.Errorf("insert movement: %w", err)
	}
	return m, nil
}

func (s *Service) sessionFor(ctx context.Context, owner, programID string, now time.Time) (string, error) {
	date := now.Format(dateLayout)
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE owner = ? AND date = ? AND IFNULL(program_id, '') = ?`, owner, date, programID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query session: %w", err)
	}

	id = uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner, program_id, date, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, owner, nullString(programID), date, formatTime(now))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// ListSessions returns the owner's most recent sessions with their
// movements. A movement filter keeps only sessions that include it.
func (s *Service) ListSessions(ctx context.Context, owner string, limit int, movement string) ([]Session, error) {
	if limit <= 0 {
		limit = 10
	}
	filter := ""
	if movement != "" {
		mv, ok := LookupMovement(movement)
		if !ok {
			return nil, &NotFoundError{Kind: "Movement", ID: movement}
		}
		filter = mv.Name
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, IFNULL(s.program_id, ''), s.date FROM sessions s
		WHERE s.owner = ?
		  AND (? = '' OR EXISTS (SELECT 1 FROM movements m WHERE m.session_id = s.id AND m.movement = ?))
		ORDER BY s.date DESC, s.created_at DESC
		LIMIT ?`, owner, filter, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.ProgramID, &sess.Date); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for i := range sessions {
		mvs, err := s.movements(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Movements = mvs
	}
	return sessions, nil
}

func (s *Service) movements(ctx context.Context, sessionID string) ([]LoggedMovement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, movement, sets, reps, weight_kg, rpe, note, logged_at FROM movements WHERE session_id = ? ORDER BY logged_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	out := []LoggedMovement{}
	for rows.Next() {
		m := LoggedMovement{SessionID: sessionID}
		var logged string
		if err := rows.Scan(&m.ID, &m.Movement, &m.Sets, &m.Reps, &m.WeightKg, &m.RPE, &m.Note, &logged); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.LoggedAt = parseTime(logged)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its movements.
func (s *Service) DeleteSession(ctx context.Context, owner, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM movements WHERE session_id IN (SELECT id FROM sessions WHERE owner = ? AND id = ?)`, owner, id); err != nil {
		return fmt.Errorf("delete movements: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "Session", ID: id}
	}
	return nil
}

// PersonalRecords returns the heaviest set per movement, heavier reps
// breaking ties. An empty movement returns every movement.
func (s *Service) PersonalRecords(ctx context.Context, owner, movement string) ([]PersonalRecord, error) {
	filter := ""
	if movement != "" {
		mv, ok := LookupMovement(movement)
		if !ok {
			return nil, &NotFoundError{Kind: "Movement", ID: movement}
		}
		filter = mv.Name
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.movement, m.weight_kg, m.reps, s.date FROM movements m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.owner = ? AND (? = '' OR m.movement = ?) AND m.weight_kg > 0
		ORDER BY m.movement, m.weight_kg DESC, m.reps DESC, s.date`, owner, filter, filter)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []PersonalRecord{}
	for rows.Next() {
		var r PersonalRecord
		if err := rows.Scan(&r.Movement, &r.WeightKg, &r.Reps, &r.Date); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if n := len(records); n > 0 && records[n-1].Movement == r.Movement {
			continue
		}
		r.EstimatedOneRepMax = EstimateOneRepMax(r.WeightKg, r.Reps)
		records = append(records, r)
	}
	return records, rows.Err()
}

// EstimateOneRepMax applies the Epley formula, rounded to the nearest 0.5 kg.
func EstimateOneRepMax(weight float64, reps int) float64 {
	if reps <= 1 {
		return weight
	}
	return math.Round(weight*(1+float64(reps)/30)*2) / 2
}

// SaveNote stores a note unless the same text is already saved. The bool
// reports whether the note already existed.
func (s *Service) SaveNote(ctx context.Context, owner, content string) (Note, bool, error) {
	content = strings.TrimSpace(content)
	var n Note
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, created_at FROM notes WHERE owner = ? AND content = ?`, owner, content).
		Scan(&n.ID, &n.Content, &created)
	if err == nil {
		n.CreatedAt = parseTime(created)
		return n, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Note{}, false, fmt.Errorf("query note: %w", err)
	}

	n = Note{ID: uuid.New().String(), Content: content, CreatedAt: s.now()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notes (id, owner, content, created_at) VALUES (?, ?, ?, ?)`,
		n.ID, owner, n.Content, formatTime(n.CreatedAt))
	if err != nil {
		return Note{}, false, fmt.Errorf("insert note: %w", err)
	}
	return n, false, nil
}

// ListNotes returns the owner's notes, oldest first.
func (s *Service) ListNotes(ctx context.Context, owner string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, created_at FROM notes WHERE owner = ? ORDER BY created_at, rowid`, owner)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var n Note
		var created string
		if err := rows.Scan(&n.ID, &n.Content, &created); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = parseTime(created)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteNote removes one of the owner's notes.
func (s *Service) DeleteNote(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "Note", ID: id}
	}
	return nil
}
