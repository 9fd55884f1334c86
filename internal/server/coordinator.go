package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/chatroom/internal/auth"
	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/store"
)

// Authenticator resolves a login request to an identity.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.Result, error)
}

// Coordinator applies the chat rules to client events: login, join and leave
// notices, fan-out of chat messages and history on connect.
type Coordinator struct {
	hub          *Hub
	auth         Authenticator
	history      store.HistoryStore
	clock        *chat.Clock
	log          *slog.Logger
	historyLimit int
	storeTimeout time.Duration
}

// NewCoordinator builds a Coordinator. history may be nil, which disables
// both history delivery and message persistence.
func NewCoordinator(hub *Hub, authenticator Authenticator, history store.HistoryStore, cfg Config, log *slog.Logger) *Coordinator {
	cfg = sanitizeConfig(cfg)
	return &Coordinator{
		hub:          hub,
		auth:         authenticator,
		history:      history,
		clock:        chat.NewClock(),
		log:          log,
		historyLimit: cfg.HistoryLimit,
		storeTimeout: cfg.StoreTimeout,
	}
}

// WithClock replaces the timestamp source.
func (co *Coordinator) WithClock(clock *chat.Clock) *Coordinator {
	co.clock = clock
	return co
}

// Connect delivers history to a new client and then registers it, so the
// history frame precedes anything broadcast to it. It returns false when the
// hub is no longer accepting clients.
func (co *Coordinator) Connect(ctx context.Context, client *Client) bool {
	if payload, ok := co.historyFrame(ctx); ok {
		client.queue(payload)
	}
	return co.hub.Register(client)
}

func (co *Coordinator) historyFrame(ctx context.Context) ([]byte, bool) {
	if co.history == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, co.storeTimeout)
	defer cancel()

	messages, err := co.history.RecentMessages(ctx, co.historyLimit)
	if err != nil {
		co.log.Warn("History unavailable, skipping history delivery", "error", err)
		return nil, false
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	payload, err := encodeEvent(EventHistory, messages)
	if err != nil {
		co.log.Error("Error encoding history", "error", err)
		return nil, false
	}
	return payload, true
}

// HandleEvent dispatches one inbound event. Unknown events are ignored.
func (co *Coordinator) HandleEvent(ctx context.Context, client *Client, envelope Envelope) {
	switch envelope.Event {
	case EventLogin:
		var req LoginRequest
		if err := json.Unmarshal(envelope.Data, &req); err != nil {
			co.log.Debug("Invalid login payload", "conn", client.id, "error", err)
			co.respond(client, LoginResponse{Message: "invalid login request"})
			return
		}
		co.Login(ctx, client, req)

	case EventNewUser:
		co.AnnounceJoin(client)

	case EventChatMessage:
		var text string
		if err := json.Unmarshal(envelope.Data, &text); err != nil {
			co.log.Debug("Invalid chat message payload", "conn", client.id, "error", err)
			return
		}
		co.Chat(ctx, client, text)

	default:
		co.log.Debug("Ignoring unknown event", "conn", client.id, "event", envelope.Event)
	}
}

// Login authenticates the client and, on success, binds its identity and
// announces the join. The response goes to the requesting client only.
func (co *Coordinator) Login(ctx context.Context, client *Client, req LoginRequest) {
	if name, identified := client.session.Identity(); identified {
		co.respond(client, LoginResponse{Message: loginFailureMessage(fmt.Errorf("%w as %s", auth.ErrAlreadyIdentified, name))})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, co.storeTimeout)
	defer cancel()

	result, err := co.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		co.log.Info("Login refused", "conn", client.id, "username", req.Username, "error", err)
		co.respond(client, LoginResponse{Message: loginFailureMessage(err)})
		return
	}

	// A concurrent login on the same session lost the race.
	if !client.session.Identify(result.Username) {
		name, _ := client.session.Identity()
		co.respond(client, LoginResponse{Message: loginFailureMessage(fmt.Errorf("%w as %s", auth.ErrAlreadyIdentified, name))})
		return
	}

	co.log.Info("User logged in", "conn", client.id, "username", result.Username, "new", result.IsNew)
	co.respond(client, LoginResponse{Success: true, Username: result.Username, IsNew: result.IsNew})
	co.AnnounceJoin(client)
}

func loginFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrWrongPassword):
		return auth.ErrWrongPassword.Error()
	case errors.Is(err, auth.ErrStoreUnavailable):
		return "login is temporarily unavailable, try again later"
	default:
		return err.Error()
	}
}

func (co *Coordinator) respond(client *Client, resp LoginResponse) {
	payload, err := encodeEvent(EventLoginResponse, resp)
	if err != nil {
		co.log.Error("Error encoding login response", "error", err)
		return
	}
	if !co.hub.SendTo(client, payload) {
		co.log.Warn("Could not deliver login response", "conn", client.id)
	}
}

// AnnounceJoin broadcasts the join notice for an identified client, at most
// once per session.
func (co *Coordinator) AnnounceJoin(client *Client) {
	name, identified := client.session.Identity()
	if !identified {
		co.log.Debug("Ignoring join trigger from anonymous session", "conn", client.id)
		return
	}
	if !client.session.MarkAnnounced() {
		return
	}
	co.broadcastNotice(chat.JoinNotice(name, co.clock.Now()))
}

// Chat persists and fans out a message from an identified client to every
// other client. Messages from anonymous sessions are dropped.
func (co *Coordinator) Chat(ctx context.Context, client *Client, text string) {
	name, identified := client.session.Identity()
	if !identified {
		co.log.Debug("Dropping chat message from anonymous session", "conn", client.id)
		return
	}

	msg := chat.NewMessage(name, text, co.clock.Now())
	co.persist(ctx, msg)

	payload, err := encodeEvent(EventChatMessage, msg)
	if err != nil {
		co.log.Error("Error encoding chat message", "error", err)
		return
	}
	co.hub.BroadcastToOthers(client, payload)
}

func (co *Coordinator) persist(ctx context.Context, msg chat.Message) {
	if co.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, co.storeTimeout)
	defer cancel()

	if err := co.history.SaveMessage(ctx, msg); err != nil {
		co.log.Error("Failed to persist chat message", "id", msg.ID, "username", msg.Username, "error", err)
	}
}

// Disconnect removes the client and, if it had logged in, tells the others.
func (co *Coordinator) Disconnect(client *Client) {
	co.hub.Remove(client)

	name, identified := client.session.Identity()
	if !identified {
		return
	}
	co.broadcastNotice(chat.LeaveNotice(name, co.clock.Now()))
}

func (co *Coordinator) broadcastNotice(notice chat.Message) {
	payload, err := encodeEvent(EventChatMessage, notice)
	if err != nil {
		co.log.Error("Error encoding notice", "error", err)
		return
	}
	co.hub.BroadcastToAll(payload)
}
