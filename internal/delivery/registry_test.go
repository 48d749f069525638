package delivery

import (
	"testing"

	"github.com/user/liftcoach/internal/types"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotKey types.ConversationKey
	var gotMsg string
	reg.Register("test:", func(key types.ConversationKey, message string) error {
		gotKey = key
		gotMsg = message
		return nil
	})

	err := reg.Deliver("test:123", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test:123" {
		t.Errorf("expected key %q, got %q", "test:123", gotKey)
	}
	if gotMsg != "hello" {
		t.Errorf("expected message %q, got %q", "hello", gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver("unknown:123", "hello")
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry()

	var telegramCalls, httpCalls int
	reg.Register("telegram:", func(types.ConversationKey, string) error {
		telegramCalls++
		return nil
	})
	reg.Register("http:", func(types.ConversationKey, string) error {
		httpCalls++
		return nil
	})

	if err := reg.Deliver("telegram:42:100", "msg1"); err != nil {
		t.Fatalf("telegram deliver error: %v", err)
	}
	if err := reg.Deliver("http:general", "msg2"); err != nil {
		t.Fatalf("http deliver error: %v", err)
	}

	if telegramCalls != 1 {
		t.Errorf("expected 1 telegram call, got %d", telegramCalls)
	}
	if httpCalls != 1 {
		t.Errorf("expected 1 http call, got %d", httpCalls)
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var got string
	reg.Register("telegram:", func(types.ConversationKey, string) error {
		got = "generic"
		return nil
	})
	reg.Register("telegram:group:", func(types.ConversationKey, string) error {
		got = "group"
		return nil
	})

	if err := reg.Deliver("telegram:group:5", "x"); err != nil {
		t.Fatal(err)
	}
	if got != "group" {
		t.Errorf("expected group handler, got %s", got)
	}
	if err := reg.Deliver("telegram:5:5", "x"); err != nil {
		t.Fatal(err)
	}
	if got != "generic" {
		t.Errorf("expected generic handler, got %s", got)
	}
}
