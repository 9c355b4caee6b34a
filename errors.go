package lpsclient

import (
	"errors"
	"fmt"

	"github.com/quandastudio/lpsclient-go/transport"
	"github.com/quandastudio/lpsclient-go/wire"
)

var (
	ErrNotConnected     = transport.ErrNotConnected
	ErrDisconnected     = errors.New("lpsclient: disconnected while waiting for reply")
	ErrBannedOpponent   = errors.New("lpsclient: paired with a banned opponent")
	ErrFriendIDRequired = errors.New("lpsclient: friend id required when waiting for a friend")
)

// AuthErrorKind classifies a rejected login.
type AuthErrorKind int

const (
	AuthBanned AuthErrorKind = iota + 1
	AuthServerClosed
	AuthUnexpectedReply
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthBanned:
		return "banned"
	case AuthServerClosed:
		return "server closed"
	case AuthUnexpectedReply:
		return "unexpected reply"
	default:
		return "unknown"
	}
}

// AuthError is returned by Login when the server does not accept the player.
type AuthError struct {
	Kind      AuthErrorKind
	Reason    string       // ban reason, AuthBanned only
	ConnError bool         // the ban is a connection-level refusal
	Reply     wire.Inbound // offending message, AuthUnexpectedReply only
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthBanned:
		return fmt.Sprintf("lpsclient: login rejected: banned: %s", e.Reason)
	case AuthUnexpectedReply:
		return fmt.Sprintf("lpsclient: login rejected: unexpected reply %T", e.Reply)
	default:
		return "lpsclient: login rejected: " + e.Kind.String()
	}
}
