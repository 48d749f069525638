package context

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/liftcoach/internal/types"
)

func conversationWith(system int, counts ...int) *types.Conversation {
	sys := types.NewSystemMessage("system")
	sys.TokenCount = system
	conv := &types.Conversation{ID: "c1", Messages: []types.Message{sys}}
	for i, n := range counts {
		m := types.NewUserMessage(strings.Repeat("x", i+1))
		if i%2 == 1 {
			m = types.NewAssistantMessage(m.Content, nil)
		}
		m.TokenCount = n
		conv.Messages = append(conv.Messages, m)
	}
	return conv
}

func TestNewEngine(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096, "")
	if err != nil {
		t.Fatal(err)
	}
	if e.Budget() != 128000-4096 {
		t.Errorf("expected budget %d, got %d", 128000-4096, e.Budget())
	}
}

func TestNewEngineRejectsReserveAboveWindow(t *testing.T) {
	if _, err := New("gpt-4", 100, 100, ""); err == nil {
		t.Fatal("expected error when reserve consumes the whole window")
	}
}

func TestNewEngineUnknownModelFallsBack(t *testing.T) {
	e, err := New("some-local-model", 8000, 1000, "")
	if err != nil {
		t.Fatal(err)
	}
	if e.Count("hello world") == 0 {
		t.Error("expected fallback tokenizer to count tokens")
	}
}

func TestStamp(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096, "")
	if err != nil {
		t.Fatal(err)
	}
	plain := types.NewUserMessage("log three sets of squats")
	withCall := types.NewAssistantMessage("log three sets of squats", []types.ToolCall{
		{ID: "c1", Name: "log_movement", Arguments: `{"reps":5}`},
	})
	e.Stamp(&plain, &withCall)
	if plain.TokenCount == 0 {
		t.Fatal("expected non-zero token count")
	}
	if withCall.TokenCount <= plain.TokenCount {
		t.Errorf("tool calls should add tokens: %d <= %d", withCall.TokenCount, plain.TokenCount)
	}
}

func TestSystemMessageCustomPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	if err := os.WriteFile(path, []byte("Coach for {{.Owner}} with {{.ToolList}}"), 0644); err != nil {
		t.Fatal(err)
	}
	e, err := New("gpt-4", 128000, 4096, path)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := e.SystemMessage(PromptData{Owner: "sam", Tools: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Role != types.RoleSystem {
		t.Errorf("expected system role, got %q", msg.Role)
	}
	if msg.Content != "Coach for sam with a, b" {
		t.Errorf("unexpected prompt %q", msg.Content)
	}
	if msg.TokenCount == 0 {
		t.Error("expected system message to be stamped")
	}
}

func TestSystemMessageDefaultPrompt(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096, filepath.Join(t.TempDir(), "missing.tmpl"))
	if err != nil {
		t.Fatal(err)
	}
	msg, err := e.SystemMessage(PromptData{Tools: []string{"log_movement"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Content, "Liftcoach") || !strings.Contains(msg.Content, "Available tools: log_movement") {
		t.Errorf("unexpected default prompt: %q", msg.Content)
	}
}

func TestAssembleDropsOldest(t *testing.T) {
	conv := conversationWith(1, 4, 4, 4)

	got, err := Assemble(conv, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected system + 2 newest, got %d messages", len(got))
	}
	if got[0].Role != types.RoleSystem {
		t.Errorf("expected system first, got %q", got[0].Role)
	}
	if got[1].ID != conv.Messages[2].ID || got[2].ID != conv.Messages[3].ID {
		t.Error("expected the two most recent messages in chronological order")
	}
}

func TestAssembleInclusiveBoundary(t *testing.T) {
	conv := conversationWith(2, 3, 5)

	got, err := Assemble(conv, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected a message exactly filling the budget to be kept, got %d messages", len(got))
	}
}

func TestAssembleNeverSkipsOverLargeMessage(t *testing.T) {
	// the 9-token message does not fit, so the older 1-token one is excluded too
	conv := conversationWith(1, 1, 9, 2)

	got, err := Assemble(conv, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ID != conv.Messages[3].ID {
		t.Fatalf("expected system + newest only, got %d messages", len(got))
	}
}

func TestAssembleSystemPromptTooLarge(t *testing.T) {
	conv := conversationWith(11, 1)

	_, err := Assemble(conv, 10)
	if !errors.Is(err, ErrSystemPromptTooLarge) {
		t.Fatalf("expected ErrSystemPromptTooLarge, got %v", err)
	}
}

func TestAssembleSystemPromptOnly(t *testing.T) {
	conv := conversationWith(10, 1)

	got, err := Assemble(conv, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the system message, got %d", len(got))
	}
}

func TestAssembleMissingSystem(t *testing.T) {
	conv := &types.Conversation{Messages: []types.Message{types.NewUserMessage("hi")}}
	if _, err := Assemble(conv, 100); !errors.Is(err, types.ErrMissingSystemMessage) {
		t.Fatalf("expected ErrMissingSystemMessage, got %v", err)
	}
}

func TestAssembleDropsOrphanedToolResults(t *testing.T) {
	sys := types.NewSystemMessage("s")
	sys.TokenCount = 1
	call := types.NewAssistantMessage("", []types.ToolCall{
		{ID: "a", Name: "list_programs", Arguments: "{}"},
		{ID: "b", Name: "list_sessions", Arguments: "{}"},
	})
	call.TokenCount = 10
	resA := types.NewToolMessage("a", "[]")
	resA.TokenCount = 2
	resB := types.NewToolMessage("b", "[]")
	resB.TokenCount = 2
	final := types.NewAssistantMessage("nothing logged yet", nil)
	final.TokenCount = 3
	conv := &types.Conversation{Messages: []types.Message{sys, call, resA, resB, final}}

	got, err := Assemble(conv, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ID != final.ID {
		t.Fatalf("expected tool results without their call to be dropped, got %d messages", len(got))
	}
	window := &types.Conversation{Messages: got}
	if err := window.Validate(); err != nil {
		t.Errorf("assembled window should validate: %v", err)
	}
}

func TestAssembleBudgetProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 500; iter++ {
		counts := make([]int, rng.Intn(12))
		for i := range counts {
			counts[i] = rng.Intn(8)
		}
		conv := conversationWith(rng.Intn(5), counts...)
		budget := rng.Intn(30)

		got, err := Assemble(conv, budget)
		if err != nil {
			if !errors.Is(err, ErrSystemPromptTooLarge) {
				t.Fatalf("iteration %d: unexpected error %v", iter, err)
			}
			continue
		}
		if got[0].Role != types.RoleSystem {
			t.Fatalf("iteration %d: system message not first", iter)
		}
		if total := TotalTokens(got); total > budget {
			t.Fatalf("iteration %d: total %d exceeds budget %d", iter, total, budget)
		}

		// included messages form a suffix of the history
		suffix := conv.Messages[len(conv.Messages)-(len(got)-1):]
		for i, m := range got[1:] {
			if m.ID != suffix[i].ID {
				t.Fatalf("iteration %d: included messages are not the newest contiguous run", iter)
			}
		}
	}
}

func TestToLLM(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("hi"),
		types.NewAssistantMessage("", []types.ToolCall{{ID: "c1", Name: "list_programs"}}),
		types.NewToolMessage("c1", "[]"),
	}
	out := ToLLM(msgs)
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[1].ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("empty arguments should become {}, got %q", out[1].ToolCalls[0].Function.Arguments)
	}
	if out[1].ToolCalls[0].Type != "function" {
		t.Errorf("expected function tool call type, got %q", out[1].ToolCalls[0].Type)
	}
	if out[2].Role != "tool" || out[2].ToolCallID != "c1" {
		t.Errorf("unexpected tool message %+v", out[2])
	}
}
