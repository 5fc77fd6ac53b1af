package commands

import (
	"context"
	"errors"
	"testing"
)

func TestParseRecognizesSlashCommand(t *testing.T) {
	name, args, ok := Parse("/save please")
	if !ok || name != "save" || args != "please" {
		t.Fatalf("unexpected parse result: name=%q args=%q ok=%v", name, args, ok)
	}
}

func TestParseRejectsPlainText(t *testing.T) {
	if _, _, ok := Parse("hello there"); ok {
		t.Fatal("expected plain text to not match a command")
	}
}

func TestParseRejectsBareSlash(t *testing.T) {
	if _, _, ok := Parse("/"); ok {
		t.Fatal("expected a bare slash to not match a command")
	}
}

func TestDispatchRunsRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("ping", func(ctx context.Context, cc Context, args string) string {
		return "pong:" + args
	})

	reply, matched := r.Dispatch(context.Background(), "/ping hello", Context{})
	if !matched || reply != "pong:hello" {
		t.Fatalf("unexpected dispatch result: reply=%q matched=%v", reply, matched)
	}
}

func TestDispatchUnmatchedCommandFallsThrough(t *testing.T) {
	r := NewRegistry()
	r.Register("ping", func(ctx context.Context, cc Context, args string) string { return "pong" })

	_, matched := r.Dispatch(context.Background(), "/unknown", Context{})
	if matched {
		t.Fatal("expected an unregistered command name to not match")
	}

	_, matched = r.Dispatch(context.Background(), "just talking", Context{})
	if matched {
		t.Fatal("expected plain text to not match")
	}
}

type fakePusher struct {
	err   error
	calls int
}

func (f *fakePusher) PushAll(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestSyncHandlerDisabledReturnsErrorAsMessageBody(t *testing.T) {
	h := SyncHandler(nil, false)
	reply := h(context.Background(), Context{}, "")
	if reply != "Sync is disabled; nothing to do." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestSyncHandlerRunsImmediatePush(t *testing.T) {
	fp := &fakePusher{}
	h := SyncHandler(fp, true)
	reply := h(context.Background(), Context{}, "")
	if fp.calls != 1 {
		t.Fatalf("expected exactly one PushAll call, got %d", fp.calls)
	}
	if reply != "Sync complete." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestSyncHandlerSurfacesPushFailureAsMessageBody(t *testing.T) {
	fp := &fakePusher{err: errors.New("boom")}
	h := SyncHandler(fp, true)
	reply := h(context.Background(), Context{}, "")
	if reply != "Sync failed: boom" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}
