package lpsclient

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/quandastudio/lpsclient-go/wire"
)

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

// AuthType names the identity provider behind a login.
type AuthType string

const (
	AuthNative   AuthType = "nt"
	AuthGoogle   AuthType = "gl"
	AuthVK       AuthType = "vk"
	AuthFacebook AuthType = "fb"
)

// AuthData is the player's login identity. UserID and AccessHash are
// assigned by the server and filled in after a successful login.
type AuthData struct {
	Login       string
	SnUID       string
	SnType      AuthType
	AccessToken string

	AccessHash string
	UserID     int
}

// NewAuthData returns a native identity for login name.
func NewAuthData(login string) AuthData {
	return AuthData{Login: login, SnType: AuthNative}
}

// Hash fingerprints the stable identity fields. It is used as the storage
// key for server-assigned credentials.
func (a AuthData) Hash() string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s,%s,%s,", a.Login, a.SnUID, a.SnType)))
	return hex.EncodeToString(sum[:])
}

func (a AuthData) String() string {
	return fmt.Sprintf("AuthData(login=%q, snUID=%q, snType=%s, userID=%d)", a.Login, a.SnUID, a.SnType, a.UserID)
}

// PlayerData is what the client announces about itself at login.
type PlayerData struct {
	AuthData           AuthData
	ClientVersion      string
	ClientBuild        int
	CanReceiveMessages bool
}

// NewPlayerData returns player data for a native login.
func NewPlayerData(login string) *PlayerData {
	return &PlayerData{AuthData: NewAuthData(login), CanReceiveMessages: true}
}

// AuthResult is the outcome of a successful login.
type AuthResult struct {
	AuthData   *AuthData
	NewerBuild int    // latest client build known to the server
	PicHash    string // checksum of the avatar the server holds, if any
}

// Match is a paired game: the opponent and whether we move first.
type Match struct {
	Opponent   wire.PlayerSummary
	YouStarter bool
}

// --------------------------------------------------------------------------
// Avatar
// --------------------------------------------------------------------------

// AvatarState tells login what to do with the player's picture.
type AvatarState interface {
	avatarState()
}

// NoAvatar leaves the server's picture untouched.
type NoAvatar struct{}

// DeleteAvatar removes the server's picture.
type DeleteAvatar struct{}

// PresentAvatar uploads Data unless the server already holds it.
type PresentAvatar struct {
	Data []byte
}

func (NoAvatar) avatarState()      {}
func (DeleteAvatar) avatarState()  {}
func (PresentAvatar) avatarState() {}

// ContentHasher encodes avatar bytes for transfer and checksums the
// encoded form. The checksum is compared with the server's pic hash.
type ContentHasher interface {
	Encode(data []byte) string
	Checksum(encoded string) string
}

// StdHasher encodes with standard Base64 and checksums with hex MD5.
type StdHasher struct{}

func (StdHasher) Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func (StdHasher) Checksum(encoded string) string {
	sum := md5.Sum([]byte(encoded))
	return hex.EncodeToString(sum[:])
}
