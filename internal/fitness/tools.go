package fitness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/liftcoach/internal/runtime"
	"github.com/user/liftcoach/internal/types"
)

// Owner is the tool group name in the registry.
const Owner = "fitness"

// CreateProgramArgs are the arguments of create_program.
type CreateProgramArgs struct {
	Name        string `json:"name" jsonschema:"minLength=1"`
	Description string `json:"description,omitempty"`
	DaysPerWeek int    `json:"days_per_week" jsonschema:"minimum=1,maximum=7"`
}

// LogMovementArgs are the arguments of log_movement.
type LogMovementArgs struct {
	Movement  string  `json:"movement" jsonschema:"minLength=1"`
	Reps      int     `json:"reps" jsonschema:"minimum=1,maximum=100"`
	Sets      int     `json:"sets,omitempty" jsonschema:"minimum=1,maximum=50"`
	WeightKg  float64 `json:"weight_kg,omitempty" jsonschema:"minimum=0"`
	RPE       float64 `json:"rpe,omitempty" jsonschema:"minimum=1,maximum=10"`
	ProgramID string  `json:"program_id,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// Validate rejects movements outside the catalog so the model can correct
// the name.
func (a LogMovementArgs) Validate() error {
	if _, ok := LookupMovement(a.Movement); !ok {
		return fmt.Errorf("unknown movement %q, see movement_catalog", a.Movement)
	}
	return nil
}

// SavedNote is the result of save_note.
type SavedNote struct {
	Note          Note `json:"note"`
	AlreadyExists bool `json:"already_exists"`
}

// Deleted acknowledges a removal.
type Deleted struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Register adds the training-log tools to the registry. Each call runs in
// its own transaction on db.
func Register(registry *runtime.Registry, db *sql.DB, now func() time.Time) error {
	g := runtime.NewGroup(registry, Owner, Scope(db, now))
	return g.Register(
		runtime.NoArgs("movement_catalog",
			"List the movements that can be logged, with their categories, muscles and accepted aliases.",
			func(ctx context.Context, svc *Service, _ *types.Principal) ([]Movement, error) {
				return Catalog(), nil
			}),

		runtime.NoArgs("list_programs",
			"List the lifter's training programs.",
			func(ctx context.Context, svc *Service, p *types.Principal) ([]Program, error) {
				return svc.ListPrograms(ctx, p.ID)
			}).RequirePrincipal(),

		runtime.Object("create_program",
			"Create a named training program for the lifter.",
			func(ctx context.Context, svc *Service, p *types.Principal, args CreateProgramArgs) (Program, error) {
				return svc.CreateProgram(ctx, p.ID, args)
			}).RequirePrincipal(),

		runtime.Flat1("get_program",
			"Get one of the lifter's programs by id.",
			runtime.NewArg[string]("id"),
			func(ctx context.Context, svc *Service, p *types.Principal, id string) (Program, error) {
				return svc.GetProgram(ctx, p.ID, id)
			}).RequirePrincipal(),

		runtime.Object("log_movement",
			"Log sets of a movement in today's training session. Weight is in kilograms.",
			func(ctx context.Context, svc *Service, p *types.Principal, args LogMovementArgs) (LoggedMovement, error) {
				return svc.LogMovement(ctx, p.ID, args)
			}).RequirePrincipal(),

		runtime.Flat2("list_sessions",
			"List the lifter's most recent training sessions, optionally only those containing a movement.",
			runtime.NewArg[int]("limit").WithDefault(10),
			runtime.NewArg[string]("movement").WithDefault(""),
			func(ctx context.Context, svc *Service, p *types.Principal, limit int, movement string) ([]Session, error) {
				return svc.ListSessions(ctx, p.ID, limit, movement)
			}).RequirePrincipal(),

		runtime.Flat1("delete_session",
			"Delete a training session and every movement logged in it.",
			runtime.NewArg[string]("id"),
			func(ctx context.Context, svc *Service, p *types.Principal, id string) (Deleted, error) {
				if err := svc.DeleteSession(ctx, p.ID, id); err != nil {
					return Deleted{}, err
				}
				return Deleted{ID: id, Deleted: true}, nil
			}).RequirePrincipal(),

		runtime.Flat1("personal_records",
			"Show the lifter's heaviest set and estimated one-rep max per movement.",
			runtime.NewArg[string]("movement").WithDefault(""),
			func(ctx context.Context, svc *Service, p *types.Principal, movement string) ([]PersonalRecord, error) {
				return svc.PersonalRecords(ctx, p.ID, movement)
			}).RequirePrincipal(),

		runtime.Flat1("save_note",
			"Remember a fact about the lifter, such as an injury, a goal or a preference.",
			runtime.NewArg[string]("content"),
			func(ctx context.Context, svc *Service, p *types.Principal, content string) (SavedNote, error) {
				if strings.TrimSpace(content) == "" {
					return SavedNote{}, errors.New("empty note")
				}
				n, existed, err := svc.SaveNote(ctx, p.ID, content)
				return SavedNote{Note: n, AlreadyExists: existed}, err
			}).RequirePrincipal(),

		runtime.NoArgs("list_notes",
			"List everything remembered about the lifter.",
			func(ctx context.Context, svc *Service, p *types.Principal) ([]Note, error) {
				return svc.ListNotes(ctx, p.ID)
			}).RequirePrincipal(),

		runtime.Flat1("delete_note",
			"Forget a saved note by id.",
			runtime.NewArg[string]("id"),
			func(ctx context.Context, svc *Service, p *types.Principal, id string) (Deleted, error) {
				if err := svc.DeleteNote(ctx, p.ID, id); err != nil {
					return Deleted{}, err
				}
				return Deleted{ID: id, Deleted: true}, nil
			}).RequirePrincipal(),
	)
}
