package syncengine

import (
	"context"
	"strconv"
	"testing"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
)

type fakeRemote struct {
	spaces        map[string]remoteSpace
	conversations map[string][]remoteConversation
	messages      map[string][]remoteMessage
	nextID        int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		spaces:        make(map[string]remoteSpace),
		conversations: make(map[string][]remoteConversation),
		messages:      make(map[string][]remoteMessage),
	}
}

func (f *fakeRemote) genID(prefix string) string {
	f.nextID++
	return prefix + "-" + strconv.Itoa(f.nextID)
}

func (f *fakeRemote) CreateSpace(ctx context.Context, wrappedKey string) (string, error) {
	id := f.genID("space")
	f.spaces[id] = remoteSpace{ID: id, WrappedKey: wrappedKey}
	return id, nil
}

func (f *fakeRemote) ListSpaces(ctx context.Context) ([]remoteSpace, error) {
	out := make([]remoteSpace, 0, len(f.spaces))
	for _, s := range f.spaces {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRemote) CreateConversation(ctx context.Context, spaceRemoteID, conversationID, ciphertext string) error {
	f.conversations[spaceRemoteID] = append(f.conversations[spaceRemoteID], remoteConversation{ID: conversationID, Ciphertext: ciphertext})
	return nil
}

func (f *fakeRemote) PatchConversation(ctx context.Context, conversationID, ciphertext string, starred bool) error {
	for space, list := range f.conversations {
		for i, c := range list {
			if c.ID == conversationID {
				f.conversations[space][i].Ciphertext = ciphertext
				return nil
			}
		}
	}
	return nil
}

func (f *fakeRemote) CreateMessage(ctx context.Context, conversationID, messageID, ciphertext string) error {
	f.messages[conversationID] = append(f.messages[conversationID], remoteMessage{ID: messageID, Ciphertext: ciphertext})
	return nil
}

func (f *fakeRemote) ListConversations(ctx context.Context, spaceRemoteID string) ([]remoteConversation, error) {
	return f.conversations[spaceRemoteID], nil
}

func (f *fakeRemote) ListMessages(ctx context.Context, conversationID string) ([]remoteMessage, error) {
	return f.messages[conversationID], nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.FromConfig("debug", "text"))
}

func TestKeyManagerEnsureSpaceCreatesOnce(t *testing.T) {
	masterKey, _ := cryptoutil.GenerateKey()
	km := NewKeyManager(masterKey, testLogger())
	remote := newFakeRemote()

	e1, err := km.EnsureSpace(context.Background(), remote, "space-1")
	if err != nil {
		t.Fatalf("ensure space: %v", err)
	}
	e2, err := km.EnsureSpace(context.Background(), remote, "space-1")
	if err != nil {
		t.Fatalf("ensure space again: %v", err)
	}
	if e1.RemoteID != e2.RemoteID {
		t.Fatalf("expected the same remote id on second call, got %q and %q", e1.RemoteID, e2.RemoteID)
	}
	if len(remote.spaces) != 1 {
		t.Fatalf("expected exactly one remote space created, got %d", len(remote.spaces))
	}
}

func TestKeyManagerAdoptSpaceWrongMasterKeyIsNotOurs(t *testing.T) {
	masterKey, _ := cryptoutil.GenerateKey()
	otherMaster, _ := cryptoutil.GenerateKey()
	km := NewKeyManager(masterKey, testLogger())
	remote := newFakeRemote()

	spaceKey, _ := cryptoutil.GenerateKey()
	wrapped, err := cryptoutil.WrapSpaceKey(otherMaster, spaceKey)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	ok, err := km.AdoptSpace("space-1", "remote-1", wrapped)
	if err != nil {
		t.Fatalf("unexpected hard error: %v", err)
	}
	if ok {
		t.Fatal("expected a space wrapped under a different master key to be rejected as not-ours")
	}
}

func TestKeyManagerAdoptSpaceRoundTrip(t *testing.T) {
	masterKey, _ := cryptoutil.GenerateKey()
	km := NewKeyManager(masterKey, testLogger())

	spaceKey, _ := cryptoutil.GenerateKey()
	wrapped, err := cryptoutil.WrapSpaceKey(masterKey, spaceKey)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	ok, err := km.AdoptSpace("space-1", "remote-1", wrapped)
	if err != nil || !ok {
		t.Fatalf("expected successful adoption, got ok=%v err=%v", ok, err)
	}
	if km.DEK("space-1") == nil {
		t.Fatal("expected a cached DEK after adoption")
	}
}
