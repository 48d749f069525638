package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/user/liftcoach/internal/types"
)

type repsRequest struct {
	Movement string  `json:"movement,omitempty"`
	Reps     int     `json:"reps" jsonschema:"minimum=1"`
	Weight   float64 `json:"weight,omitempty"`
}

func (r repsRequest) Validate() error {
	if r.Weight < 0 {
		return errors.New("weight must not be negative")
	}
	return nil
}

type loggedSet struct {
	Owner    string `json:"owner"`
	Movement string `json:"movement"`
	Reps     int    `json:"reps"`
}

// QuotaError is a typed tool failure whose type name becomes its label.
type QuotaError struct{}

func (QuotaError) Error() string { return "weekly quota of 40 sets reached for user 42" }

type coachService struct {
	mu     sync.Mutex
	logged []loggedSet
}

// testScope hands out one shared service and records every release.
type testScope struct {
	svc      *coachService
	mu       sync.Mutex
	opened   int
	released []error

	// releaseErr is returned from every release, as a failed commit would be.
	releaseErr error
}

func (s *testScope) factory(context.Context) (*coachService, func(error) error, error) {
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return s.svc, func(err error) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.released = append(s.released, err)
		return s.releaseErr
	}, nil
}

func (s *testScope) releases() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.released...)
}

func newTestRegistry(t *testing.T) (*Registry, *testScope) {
	t.Helper()
	scope := &testScope{svc: &coachService{}}
	reg := NewRegistry()
	g := NewGroup[*coachService](reg, "coach", scope.factory)
	err := g.Register(
		NoArgs("ping", "Health check.", func(ctx context.Context, svc *coachService, p *types.Principal) (map[string]bool, error) {
			return map[string]bool{"pong": true}, nil
		}),
		NoArgs("whoami", "Current user.", func(ctx context.Context, svc *coachService, p *types.Principal) (string, error) {
			if p == nil {
				return "anonymous", nil
			}
			return p.ID, nil
		}).AcceptPrincipal(),
		NoArgs("leak", "Ignores principal.", func(ctx context.Context, svc *coachService, p *types.Principal) (bool, error) {
			return p != nil, nil
		}),
		Object("log_movement", "Log a set.", func(ctx context.Context, svc *coachService, p *types.Principal, req repsRequest) (loggedSet, error) {
			set := loggedSet{Owner: p.ID, Movement: req.Movement, Reps: req.Reps}
			svc.mu.Lock()
			svc.logged = append(svc.logged, set)
			svc.mu.Unlock()
			return set, nil
		}).RequirePrincipal(),
		Flat2("add", "Add two numbers.", NewArg[int]("a"), NewArg[int]("b").WithDefault(1),
			func(ctx context.Context, svc *coachService, p *types.Principal, a, b int) (int, error) {
				return a + b, nil
			}),
		NoArgs("explode", "Always panics.", func(ctx context.Context, svc *coachService, p *types.Principal) (any, error) {
			panic("boom")
		}),
		NoArgs("quota", "Typed failure.", func(ctx context.Context, svc *coachService, p *types.Principal) (any, error) {
			return nil, fmt.Errorf("check quota: %w", QuotaError{})
		}),
		NoArgs("fail", "Plain failure.", func(ctx context.Context, svc *coachService, p *types.Principal) (any, error) {
			return nil, errors.New("connect to db at 10.0.0.3 with password hunter2")
		}),
		NoArgs("slow", "Deferred result.", func(ctx context.Context, svc *coachService, p *types.Principal) (*Future[string], error) {
			return Async(ctx, func(context.Context) (string, error) { return "done", nil }), nil
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg, scope
}

func toolCall(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: args}
}
