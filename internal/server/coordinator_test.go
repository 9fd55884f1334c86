package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatroom/internal/auth"
	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/mocks"
	"github.com/Tyrowin/chatroom/internal/store"
)

type fixture struct {
	hub *Hub
	co  *Coordinator
	mem *store.Memory
}

// newFixture wires a coordinator to in-memory stores. history may be nil to
// run without persistence, or any HistoryStore to override the memory one.
func newFixture(t *testing.T, history store.HistoryStore) fixture {
	t.Helper()
	hub := startHub(t)
	mem := store.NewMemory()
	svc := auth.NewService(mem, testLogger()).WithHashCost(bcrypt.MinCost)
	return fixture{
		hub: hub,
		co:  NewCoordinator(hub, svc, history, *NewConfig(), testLogger()),
		mem: mem,
	}
}

func (f fixture) connect(t *testing.T) *Client {
	t.Helper()
	client := newTestClient(f.hub, f.co)
	require.True(t, f.co.Connect(context.Background(), client))
	return client
}

func (f fixture) login(t *testing.T, client *Client, username, password string) LoginResponse {
	t.Helper()
	f.co.HandleEvent(context.Background(), client, envelope(t, EventLogin, LoginRequest{Username: username, Password: password}))
	env := recvFrame(t, client)
	require.Equal(t, EventLoginResponse, env.Event)
	return decodeData[LoginResponse](t, env)
}

func envelope(t *testing.T, event string, data any) Envelope {
	t.Helper()
	raw, err := encodeEvent(event, data)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func requireNotice(t *testing.T, client *Client, text string) {
	t.Helper()
	env := recvFrame(t, client)
	require.Equal(t, EventChatMessage, env.Event)
	msg := decodeData[chat.Message](t, env)
	require.Equal(t, chat.SystemUsername, msg.Username)
	require.Equal(t, text, msg.Text)
}

func TestCoordinator_TwoUsersChat(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	alice := f.connect(t)
	bob := f.connect(t)

	// alice registers implicitly
	resp := f.login(t, alice, "alice", "secret1")
	req.Equal(LoginResponse{Success: true, Username: "alice", IsNew: true}, resp)

	// Both sessions, alice included, see the join
	requireNotice(t, alice, "alice joined")
	requireNotice(t, bob, "alice joined")

	// alice's message reaches bob only
	f.co.HandleEvent(context.Background(), alice, envelope(t, EventChatMessage, "hi"))
	env := recvFrame(t, bob)
	req.Equal(EventChatMessage, env.Event)
	msg := decodeData[chat.Message](t, env)
	req.Equal("alice", msg.Username)
	req.Equal("hi", msg.Text)
	req.False(msg.Timestamp.IsZero())
	requireNoFrame(t, alice)

	// alice leaves, bob is told
	f.co.Disconnect(alice)
	requireNotice(t, bob, "alice left")
	req.Equal(1, f.hub.Count())
}

func TestCoordinator_ReturningUserIsNotNew(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	first := f.connect(t)
	req.True(f.login(t, first, "alice", "secret1").IsNew)
	f.co.Disconnect(first)

	second := f.connect(t)
	resp := f.login(t, second, "alice", "secret1")
	req.Equal(LoginResponse{Success: true, Username: "alice"}, resp)
}

func TestCoordinator_LoginFailures(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t)
	require.True(t, f.login(t, alice, "alice", "secret1").Success)
	requireNotice(t, alice, "alice joined")

	t.Run("wrong password", func(t *testing.T) {
		req := require.New(t)
		mallory := f.connect(t)

		resp := f.login(t, mallory, "alice", "guess")
		req.Equal(LoginResponse{Message: "wrong password"}, resp)
		_, identified := mallory.Session().Identity()
		req.False(identified)
		requireNoFrame(t, alice)
	})

	t.Run("short password on registration", func(t *testing.T) {
		req := require.New(t)
		bob := f.connect(t)

		resp := f.login(t, bob, "bob", "abc")
		req.False(resp.Success)
		req.Contains(resp.Message, "at least 4 characters")

		_, err := f.mem.GetCredential(context.Background(), "bob")
		req.ErrorIs(err, store.ErrNotFound)
	})

	t.Run("already logged in", func(t *testing.T) {
		req := require.New(t)
		resp := f.login(t, alice, "carol", "secret1")
		req.False(resp.Success)
		req.Equal("already logged in as alice", resp.Message)

		name, _ := alice.Session().Identity()
		req.Equal("alice", name)
	})

	t.Run("malformed request", func(t *testing.T) {
		req := require.New(t)
		dave := f.connect(t)
		f.co.HandleEvent(context.Background(), dave, Envelope{Event: EventLogin, Data: []byte(`"nope"`)})

		env := recvFrame(t, dave)
		req.Equal(EventLoginResponse, env.Event)
		req.False(decodeData[LoginResponse](t, env).Success)
	})
}

type downAuthenticator struct{}

func (downAuthenticator) Login(context.Context, string, string) (auth.Result, error) {
	return auth.Result{}, fmt.Errorf("%w: dial tcp: connection refused", auth.ErrStoreUnavailable)
}

func TestCoordinator_LoginWithStoreDown(t *testing.T) {
	req := require.New(t)
	hub := startHub(t)
	co := NewCoordinator(hub, downAuthenticator{}, nil, *NewConfig(), testLogger())

	client := newTestClient(hub, co)
	req.True(co.Connect(context.Background(), client))
	co.Login(context.Background(), client, LoginRequest{Username: "alice", Password: "secret1"})

	resp := decodeData[LoginResponse](t, recvFrame(t, client))
	req.False(resp.Success)
	req.NotContains(resp.Message, "connection refused")
	_, identified := client.Session().Identity()
	req.False(identified)
}

func TestCoordinator_JoinAnnouncedAtMostOnce(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t)
	bob := f.connect(t)

	require.True(t, f.login(t, alice, "alice", "secret1").Success)

	// The client follows up with redundant join triggers
	f.co.HandleEvent(context.Background(), alice, Envelope{Event: EventNewUser})
	f.co.HandleEvent(context.Background(), alice, Envelope{Event: EventNewUser})

	requireNotice(t, bob, "alice joined")
	requireNoFrame(t, bob)
}

func TestCoordinator_AnonymousSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	history := mocks.NewMockHistoryStore(ctrl)
	history.EXPECT().RecentMessages(gomock.Any(), 50).Return(nil, nil).AnyTimes()
	// Nothing from an anonymous sender is ever persisted
	history.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Times(0)

	f := newFixture(t, history)
	anon := f.connect(t)
	bob := f.connect(t)
	require.Equal(t, EventHistory, recvFrame(t, anon).Event)
	require.Equal(t, EventHistory, recvFrame(t, bob).Event)

	t.Run("chat is dropped", func(t *testing.T) {
		f.co.HandleEvent(context.Background(), anon, envelope(t, EventChatMessage, "spam"))
		requireNoFrame(t, bob)
	})

	t.Run("new user is ignored", func(t *testing.T) {
		f.co.HandleEvent(context.Background(), anon, Envelope{Event: EventNewUser})
		requireNoFrame(t, bob)
	})

	t.Run("disconnect is silent", func(t *testing.T) {
		f.co.Disconnect(anon)
		requireNoFrame(t, bob)
		require.Equal(t, 1, f.hub.Count())
	})
}

func TestCoordinator_HistoryOnConnect(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	// Saved out of order on purpose
	for i := 59; i >= 0; i-- {
		msg := chat.NewMessage("alice", fmt.Sprintf("m%02d", i), base.Add(time.Duration(i)*time.Second))
		req.NoError(mem.SaveMessage(context.Background(), msg))
	}

	f := newFixture(t, mem)
	client := newTestClient(f.hub, f.co)

	// A broadcast racing with the connect must not overtake the history
	f.hub.BroadcastToAll([]byte(`{"event":"chat message"}`))
	req.True(f.co.Connect(context.Background(), client))
	f.hub.BroadcastToAll([]byte(`{"event":"chat message"}`))

	env := recvFrame(t, client)
	req.Equal(EventHistory, env.Event)
	messages := decodeData[[]chat.Message](t, env)
	req.Len(messages, 50)
	req.Equal("m10", messages[0].Text)
	req.Equal("m59", messages[49].Text)
	for i := 1; i < len(messages); i++ {
		req.False(messages[i].Timestamp.Before(messages[i-1].Timestamp))
	}
	req.Equal(EventChatMessage, recvFrame(t, client).Event)
}

func TestCoordinator_HistoryOnConnectEmpty(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	client := f.connect(t)

	env := recvFrame(t, client)
	require.Equal(t, EventHistory, env.Event)
	require.JSONEq(t, `[]`, string(env.Data))
}

func TestCoordinator_NoHistoryWithoutStore(t *testing.T) {
	f := newFixture(t, nil)
	client := f.connect(t)
	requireNoFrame(t, client)
}

func TestCoordinator_HistoryUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	history := mocks.NewMockHistoryStore(ctrl)
	history.EXPECT().RecentMessages(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout")).Times(1)

	f := newFixture(t, history)
	client := f.connect(t)
	requireNoFrame(t, client)
	require.Equal(t, 1, f.hub.Count())
}

func TestCoordinator_ChatIsPersisted(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory()
	f := newFixture(t, mem)

	alice := f.connect(t)
	recvFrame(t, alice) // history
	req.True(f.login(t, alice, "alice", "secret1").Success)
	requireNotice(t, alice, "alice joined")

	f.co.Chat(context.Background(), alice, "first")
	f.co.Chat(context.Background(), alice, "second")

	saved, err := mem.RecentMessages(context.Background(), 50)
	req.NoError(err)
	req.Len(saved, 2)
	req.Equal("first", saved[0].Text)
	req.Equal("second", saved[1].Text)
	req.Equal("alice", saved[0].Username)
	req.NotEmpty(saved[0].ID)

	// Notices are never persisted
	for _, msg := range saved {
		req.NotEqual(chat.SystemUsername, msg.Username)
	}
}

func TestCoordinator_PersistenceFailureStillBroadcasts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	history := mocks.NewMockHistoryStore(ctrl)
	history.EXPECT().RecentMessages(gomock.Any(), gomock.Any()).Return([]chat.Message{}, nil).AnyTimes()
	history.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Return(errors.New("disk full")).Times(1)

	f := newFixture(t, history)
	alice := f.connect(t)
	bob := f.connect(t)
	recvFrame(t, alice)
	recvFrame(t, bob)

	require.True(t, f.login(t, alice, "alice", "secret1").Success)
	requireNotice(t, bob, "alice joined")

	f.co.HandleEvent(context.Background(), alice, envelope(t, EventChatMessage, "still here"))
	env := recvFrame(t, bob)
	require.Equal(t, "still here", decodeData[chat.Message](t, env).Text)
}

func TestCoordinator_TimestampsNeverGoBackwards(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory()
	f := newFixture(t, mem)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{now, now.Add(-time.Hour), now.Add(time.Second)}
	i := 0
	f.co.WithClock(chat.NewClockWithSource(func() time.Time {
		tick := ticks[i%len(ticks)]
		i++
		return tick
	}))

	alice := newTestClient(f.hub, f.co)
	req.True(alice.Session().Identify("alice"))
	req.True(f.co.Connect(context.Background(), alice))

	for _, text := range []string{"a", "b", "c"} {
		f.co.Chat(context.Background(), alice, text)
	}

	saved, err := mem.RecentMessages(context.Background(), 50)
	req.NoError(err)
	req.Len(saved, 3)
	req.Equal(now, saved[0].Timestamp)
	req.Equal(now, saved[1].Timestamp)
	req.Equal(now.Add(time.Second), saved[2].Timestamp)
}

func TestCoordinator_UnknownEventIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	client := f.connect(t)
	f.co.HandleEvent(context.Background(), client, Envelope{Event: "typing"})
	requireNoFrame(t, client)
}
