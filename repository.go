package lpsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/quandastudio/lpsclient-go/wire"
)

// TokenSource supplies the push-notification token sent at login.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// AuthSaver persists credentials after a successful login.
type AuthSaver interface {
	Save(ctx context.Context, ad AuthData) error
}

// Repository is the entry point for game screens. Every request first makes
// sure the connection is alive, reconnecting when it went stale, and Play
// keeps asking for a new game while the server pairs us with a banned
// player.
type Repository struct {
	client *Client
	token  TokenSource
	cfg    RepositoryConfig
	log    *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRepository wraps client. token is resolved on every login.
func NewRepository(client *Client, token TokenSource, cfg RepositoryConfig) *Repository {
	cfg = cfg.WithDefaults()
	return &Repository{
		client: client,
		token:  token,
		cfg:    cfg,
		log:    cfg.Logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Client returns the underlying session client.
func (r *Repository) Client() *Client { return r.client }

// ensureConnected reconnects when the connection is not usable. A stale
// connection is torn down first so that the new one starts clean.
func (r *Repository) ensureConnected(ctx context.Context) error {
	if r.client.IsConnected() {
		return nil
	}
	r.log.Info("connection stale, reconnecting")
	r.client.Disconnect()
	return r.client.Connect(ctx)
}

// Login connects if needed, resolves the token and authenticates pd.
func (r *Repository) Login(ctx context.Context, pd *PlayerData, avatar AvatarState) (*AuthResult, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}
	var token string
	if r.token != nil {
		t, err := r.token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("lpsclient: resolve token: %w", err)
		}
		token = t
	}
	res, err := r.client.Login(ctx, pd, avatar, token)
	if err != nil {
		return nil, err
	}
	if r.cfg.Saver != nil {
		if err := r.cfg.Saver.Save(ctx, *res.AuthData); err != nil {
			r.log.Warn("save credentials failed", "error", err)
		}
	}
	return res, nil
}

// Play requests a game. While the server pairs us with a banned opponent it
// waits a random backoff and asks again, up to MaxPlayAttempts. The
// connection is held open for the whole exchange so that a backoff longer
// than the idle grace window retries on the same logged-in session.
func (r *Repository) Play(ctx context.Context, waitingForFriend bool, friendID int) (Match, error) {
	var keep *Subscription
	defer func() {
		if keep != nil {
			keep.Close()
		}
	}()
	for attempt := 1; ; attempt++ {
		if err := r.ensureConnected(ctx); err != nil {
			return Match{}, err
		}
		if keep == nil || !keep.current() {
			if keep != nil {
				keep.Close()
			}
			keep = hold(r.client)
		}
		m, err := r.client.Play(ctx, waitingForFriend, friendID)
		if !errors.Is(err, ErrBannedOpponent) {
			return m, err
		}
		if r.cfg.MaxPlayAttempts > 0 && attempt >= r.cfg.MaxPlayAttempts {
			return Match{}, err
		}
		delay := r.backoff()
		r.log.Info("opponent banned, retrying", "attempt", attempt, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return Match{}, err
		}
	}
}

// hold subscribes to c and discards everything it receives. It keeps the
// shared connection open until the subscription is closed.
func hold(c *Client) *Subscription {
	sub := c.Subscribe()
	go func() {
		for {
			select {
			case _, ok := <-sub.C():
				if !ok {
					return
				}
			case <-sub.done:
				return
			}
		}
	}()
	return sub
}

// backoff picks a uniform delay in [Min, Max].
func (r *Repository) backoff() time.Duration {
	b := r.cfg.PlayBackoff
	span := int64(b.Max - b.Min)
	if span <= 0 {
		return b.Min
	}
	r.rngMu.Lock()
	n := r.rng.Int63n(span + 1)
	r.rngMu.Unlock()
	return b.Min + time.Duration(n)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Repository) ConnectToFriend(ctx context.Context) (Match, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return Match{}, err
	}
	return r.client.ConnectToFriend(ctx)
}

func (r *Repository) GetBanList(ctx context.Context) ([]wire.BanListItem, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return r.client.GetBanList(ctx)
}

func (r *Repository) GetFriendsList(ctx context.Context) ([]wire.FriendInfo, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return r.client.GetFriendsList(ctx)
}

// do runs a one-shot send after making sure the connection is alive.
func (r *Repository) do(ctx context.Context, send func(context.Context) error) error {
	if err := r.ensureConnected(ctx); err != nil {
		return err
	}
	return send(ctx)
}

func (r *Repository) SendWord(ctx context.Context, word string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.SendWord(ctx, word) })
}

func (r *Repository) SendMessage(ctx context.Context, text string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.SendMessage(ctx, text) })
}

func (r *Repository) SendFriendRequest(ctx context.Context, oppUID int) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.SendFriendRequest(ctx, oppUID) })
}

func (r *Repository) SendFriendAcceptance(ctx context.Context, oppUID int, accepted bool) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.SendFriendAcceptance(ctx, oppUID, accepted) })
}

func (r *Repository) SendFriendRequestResult(ctx context.Context, oppUID int, accepted bool) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.SendFriendRequestResult(ctx, oppUID, accepted) })
}

func (r *Repository) DeleteFriend(ctx context.Context, userID int) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.DeleteFriend(ctx, userID) })
}

func (r *Repository) BanUser(ctx context.Context, userID int) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.BanUser(ctx, userID) })
}

func (r *Repository) RemoveFromBanList(ctx context.Context, userID int) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.RemoveFromBanList(ctx, userID) })
}

func (r *Repository) SendAdminCommand(ctx context.Context, command string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.client.SendAdminCommand(ctx, command) })
}

// Disconnect closes the connection.
func (r *Repository) Disconnect() { r.client.Disconnect() }

// --------------------------------------------------------------------------
// Streams
// --------------------------------------------------------------------------

// Words streams the opponent's words until ctx is done or the connection
// ends.
func (r *Repository) Words(ctx context.Context) <-chan wire.WordTurn {
	return watch[wire.WordTurn](ctx, r.client)
}

// Messages streams chat lines.
func (r *Repository) Messages(ctx context.Context) <-chan wire.ChatMessage {
	return watch[wire.ChatMessage](ctx, r.client)
}

// FriendRequests streams incoming friendship requests and their outcomes.
func (r *Repository) FriendRequests(ctx context.Context) <-chan wire.FriendRequestIncoming {
	return watch[wire.FriendRequestIncoming](ctx, r.client)
}

// FriendModeRequests streams friend game invitations.
func (r *Repository) FriendModeRequests(ctx context.Context) <-chan wire.FriendModeRequest {
	return watch[wire.FriendModeRequest](ctx, r.client)
}

// Leave waits for the connection to close.
func (r *Repository) Leave(ctx context.Context) (wire.Disconnected, error) {
	return first[wire.Disconnected](ctx, r.client)
}

// Kick waits for a ban notice.
func (r *Repository) Kick(ctx context.Context) (wire.BanNotice, error) {
	return first[wire.BanNotice](ctx, r.client)
}

// Timeout waits for a move timeout.
func (r *Repository) Timeout(ctx context.Context) (wire.Timeout, error) {
	return first[wire.Timeout](ctx, r.client)
}

func first[T wire.Inbound](ctx context.Context, c *Client) (T, error) {
	sub := c.Subscribe()
	defer sub.Close()
	return awaitFirst[T](ctx, sub)
}

// watch forwards every message of type T until ctx is done or the
// subscription ends. The returned channel is then closed.
func watch[T wire.Inbound](ctx context.Context, c *Client) <-chan T {
	out := make(chan T, 16)
	sub := c.Subscribe()
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				m, ok := msg.(T)
				if !ok {
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
