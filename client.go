// Package lpsclient is the networking core of the LPS word game client.
// A Client keeps one shared server connection, multicasts decoded server
// messages to any number of subscribers, and turns request/reply exchanges
// (login, play, list queries) into blocking calls. A Repository layers
// connection recovery and banned-opponent retries on top.
package lpsclient

import (
	"context"
	"errors"
	"log/slog"

	"github.com/quandastudio/lpsclient-go/transport"
	"github.com/quandastudio/lpsclient-go/wire"
)

// Client is a session with the game server.
type Client struct {
	cfg    Config
	bus    *Bus
	hasher ContentHasher
	log    *slog.Logger
}

// NewClient returns a client for cfg. Nothing is dialed until Connect or
// the first subscription.
func NewClient(cfg Config) *Client {
	cfg = cfg.WithDefaults()
	tc := cfg.Transport
	return newClient(cfg, func(ctx context.Context) (Stream, error) {
		return transport.Dial(ctx, tc)
	})
}

func newClient(cfg Config, dial DialFunc) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		cfg:    cfg,
		bus:    NewBus(dial, cfg.IdleGrace, cfg.Logger),
		hasher: cfg.Hasher,
		log:    cfg.Logger,
	}
}

// Connect opens the shared connection and waits until it is up. It returns
// at once if already connected.
func (c *Client) Connect(ctx context.Context) error {
	sub := c.bus.Subscribe()
	defer sub.Close()

	if c.bus.Connected() {
		return nil
	}
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return c.connectErr()
			}
			switch msg.(type) {
			case wire.Connected:
				return nil
			case wire.Disconnected:
				return c.connectErr()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) connectErr() error {
	if err := c.bus.LastError(); err != nil {
		return err
	}
	return ErrDisconnected
}

// IsConnected reports whether the shared connection is up.
func (c *Client) IsConnected() bool { return c.bus.Connected() }

// Subscribe returns a new subscription to every server message. The caller
// must Close it.
func (c *Client) Subscribe() *Subscription { return c.bus.Subscribe() }

// Disconnect closes the connection. Pending calls fail with ErrDisconnected.
func (c *Client) Disconnect() { c.bus.Disconnect() }

// Login authenticates pd. On success pd.AuthData receives the
// server-assigned user id and access hash, and the avatar is synced
// according to avatar.
func (c *Client) Login(ctx context.Context, pd *PlayerData, avatar AvatarState, token string) (*AuthResult, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	ad := &pd.AuthData
	req := wire.LogIn{
		Login:              ad.Login,
		SnUID:              ad.SnUID,
		SnType:             string(ad.SnType),
		AccessToken:        ad.AccessToken,
		FirebaseToken:      token,
		ClientVersion:      pd.ClientVersion,
		ClientBuild:        pd.ClientBuild,
		CanReceiveMessages: pd.CanReceiveMessages,
		UserID:             ad.UserID,
		AccessHash:         ad.AccessHash,
	}

	sub := c.bus.Subscribe()
	defer sub.Close()
	if err := c.send(ctx, req); err != nil {
		return nil, err
	}

	var reply wire.Inbound
	select {
	case msg, ok := <-sub.C():
		if !ok {
			msg = wire.Disconnected{}
		}
		reply = msg
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch m := reply.(type) {
	case wire.LoggedIn:
		ad.UserID = m.UserID
		ad.AccessHash = m.AccessHash
		c.log.Info("logged in", "login", ad.Login, "user_id", m.UserID)
		c.syncAvatar(ctx, avatar, m.PicHash)
		return &AuthResult{AuthData: ad, NewerBuild: m.NewerBuild, PicHash: m.PicHash}, nil
	case wire.Banned:
		return nil, &AuthError{Kind: AuthBanned, Reason: m.Reason, ConnError: m.ConnError}
	case wire.Disconnected:
		return nil, &AuthError{Kind: AuthServerClosed}
	default:
		return nil, &AuthError{Kind: AuthUnexpectedReply, Reply: reply}
	}
}

// syncAvatar uploads or deletes the player's picture after login. Failures
// are logged; the login itself has already succeeded.
func (c *Client) syncAvatar(ctx context.Context, avatar AvatarState, picHash string) {
	var msg wire.Outbound
	switch a := avatar.(type) {
	case PresentAvatar:
		encoded := c.hasher.Encode(a.Data)
		sum := c.hasher.Checksum(encoded)
		if sum == picHash {
			return
		}
		msg = wire.Avatar{Type: wire.RequestSend, Hash: encoded, MD5: sum}
	case DeleteAvatar:
		msg = wire.Avatar{Type: wire.RequestDelete}
	default:
		return
	}
	if err := c.send(ctx, msg); err != nil {
		c.log.Warn("avatar sync failed", "error", err)
	}
}

// Play asks the server for a game. With waitingForFriend the server pairs
// us with friendID only. ErrBannedOpponent is returned when the paired
// opponent is banned.
func (c *Client) Play(ctx context.Context, waitingForFriend bool, friendID int) (Match, error) {
	req := wire.Play{Mode: wire.PlayRandomPair}
	if waitingForFriend {
		if friendID <= 0 {
			return Match{}, ErrFriendIDRequired
		}
		req = wire.Play{Mode: wire.PlayFriend, OppUID: friendID}
	}
	start, err := request[wire.PlayStart](ctx, c, req)
	if err != nil {
		return Match{}, err
	}
	if start.OpponentBanned {
		return Match{}, ErrBannedOpponent
	}
	return Match{Opponent: start.Opponent, YouStarter: start.YouStarter}, nil
}

// ConnectToFriend waits for the next game start, typically after a friend
// accepted our friend-mode request.
func (c *Client) ConnectToFriend(ctx context.Context) (Match, error) {
	start, err := request[wire.PlayStart](ctx, c, nil)
	if err != nil {
		return Match{}, err
	}
	return Match{Opponent: start.Opponent, YouStarter: start.YouStarter}, nil
}

// GetBanList returns the players we banned.
func (c *Client) GetBanList(ctx context.Context) ([]wire.BanListItem, error) {
	list, err := request[wire.BanList](ctx, c, wire.BanListAction{Type: wire.RequestQuery})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// GetFriendsList returns our friends.
func (c *Client) GetFriendsList(ctx context.Context) ([]wire.FriendInfo, error) {
	list, err := request[wire.FriendsList](ctx, c, wire.FriendAction{Type: wire.RequestQuery})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *Client) SendWord(ctx context.Context, word string) error {
	return c.send(ctx, wire.Word{Word: word})
}

func (c *Client) SendMessage(ctx context.Context, text string) error {
	return c.send(ctx, wire.Chat{Text: text})
}

// SendFriendRequest asks oppUID to become our friend.
func (c *Client) SendFriendRequest(ctx context.Context, oppUID int) error {
	return c.send(ctx, wire.FriendAction{Type: wire.RequestSend, OppUID: oppUID})
}

// SendFriendAcceptance answers an incoming friend request.
func (c *Client) SendFriendAcceptance(ctx context.Context, oppUID int, accepted bool) error {
	t := wire.RequestDeny
	if accepted {
		t = wire.RequestAccept
	}
	return c.send(ctx, wire.FriendAction{Type: t, OppUID: oppUID})
}

// SendFriendRequestResult answers a friend-mode game invitation.
func (c *Client) SendFriendRequestResult(ctx context.Context, oppUID int, accepted bool) error {
	result := wire.FriendModeDenied
	if accepted {
		result = wire.FriendModeAccepted
	}
	return c.send(ctx, wire.FriendModeResult{Result: result, OppUID: oppUID})
}

func (c *Client) DeleteFriend(ctx context.Context, userID int) error {
	return c.send(ctx, wire.FriendAction{Type: wire.RequestDelete, OppUID: userID})
}

func (c *Client) BanUser(ctx context.Context, userID int) error {
	return c.send(ctx, wire.Ban{TargetID: userID})
}

func (c *Client) RemoveFromBanList(ctx context.Context, userID int) error {
	return c.send(ctx, wire.BanListAction{Type: wire.RequestDelete, FriendUID: userID})
}

// SendAdminCommand sends a raw admin command line.
func (c *Client) SendAdminCommand(ctx context.Context, command string) error {
	return c.send(ctx, wire.AdminCommand{Command: command})
}

func (c *Client) send(ctx context.Context, msg wire.Outbound) error {
	if err := c.bus.Send(ctx, wire.Encode(msg)); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			return ErrNotConnected
		}
		return err
	}
	c.log.Debug("sent", "action", msg.Action())
	return nil
}

// request sends req (when non-nil) and waits for the first reply of type T.
// The subscription is taken before sending so the reply cannot be missed.
func request[T wire.Inbound](ctx context.Context, c *Client, req wire.Outbound) (T, error) {
	var zero T
	if !c.IsConnected() {
		return zero, ErrNotConnected
	}
	sub := c.bus.Subscribe()
	defer sub.Close()
	if req != nil {
		if err := c.send(ctx, req); err != nil {
			return zero, err
		}
	}
	return awaitFirst[T](ctx, sub)
}

// awaitFirst waits for the first message of type T. A disconnect ends the
// wait with ErrDisconnected unless T is wire.Disconnected itself.
func awaitFirst[T wire.Inbound](ctx context.Context, sub *Subscription) (T, error) {
	var zero T
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return zero, ErrDisconnected
			}
			if m, ok := msg.(T); ok {
				return m, nil
			}
			if _, ok := msg.(wire.Disconnected); ok {
				return zero, ErrDisconnected
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
