// Package wire defines the JSON messages exchanged with the LPS game server.
// Every payload is a JSON object whose "action" field selects the variant;
// the remaining fields are variant specific.
package wire

// Field holding the variant discriminator in every payload.
const fieldAction = "action"

// Inbound actions (server -> client).
const (
	ActionLoggedIn      = "logged_in"
	ActionLoginError    = "login_error"
	ActionJoin          = "join"
	ActionWord          = "word"
	ActionMsg           = "msg"
	ActionFriendRequest = "friend_request"
	ActionFMRequest     = "fm_request"
	ActionBanned        = "banned"
	ActionBanList       = "ban_list"
	ActionFriendsList   = "friends_list"
	ActionTimeout       = "timeout"
)

// Outbound actions (client -> server). ActionWord, ActionMsg and
// ActionBanList are shared with the inbound table.
const (
	ActionLogin       = "login"
	ActionPlay        = "play"
	ActionFriend      = "friend"
	ActionFMReqResult = "fm_req_result"
	ActionBan         = "ban"
	ActionAdmin       = "admin"
	ActionAvatar      = "avatar"
)

// RequestType qualifies friend, ban list and avatar requests.
type RequestType string

const (
	RequestSend   RequestType = "SEND"
	RequestAccept RequestType = "ACCEPT"
	RequestDeny   RequestType = "DENY"
	RequestDelete RequestType = "DELETE"
	RequestQuery  RequestType = "QUERY"
)

// PlayMode selects how the server pairs players.
type PlayMode string

const (
	PlayRandomPair PlayMode = "RANDOM_PAIR"
	PlayFriend     PlayMode = "FRIEND"
)

// Friend mode request results.
const (
	FriendModeAccepted = 1
	FriendModeDenied   = 2
)

// --------------------------------------------------------------------------
// Shared payload types
// --------------------------------------------------------------------------

// PlayerSummary describes the opponent announced by a join message.
type PlayerSummary struct {
	Login              string `json:"login"`
	UserID             int    `json:"user_id"`
	ClientVersion      string `json:"client_version,omitempty"`
	ClientBuild        int    `json:"client_build,omitempty"`
	CanReceiveMessages bool   `json:"can_rec_msg"`
	IsFriend           bool   `json:"is_friend"`
	PicHash            string `json:"pic_hash,omitempty"`
	SnType             string `json:"sn_type,omitempty"`
}

// BanListItem is one entry of the player's ban list.
type BanListItem struct {
	Login   string `json:"login"`
	UserID  int    `json:"user_id"`
	PicHash string `json:"pic_hash,omitempty"`
}

// FriendInfo is one entry of the player's friends list.
type FriendInfo struct {
	Login    string `json:"login"`
	UserID   int    `json:"user_id"`
	Accepted bool   `json:"accepted"`
	PicHash  string `json:"pic_hash,omitempty"`
}

// --------------------------------------------------------------------------
// Inbound messages
// --------------------------------------------------------------------------

// Inbound is the closed set of messages delivered to subscribers. Connected
// and Disconnected are produced locally by the transport; the rest are
// decoded from server payloads.
type Inbound interface {
	inbound()
}

// Connected reports that the transport just became usable.
type Connected struct{}

// Disconnected reports that the transport closed. Graceful is true when the
// close was requested locally or acknowledged by the peer as a normal close.
type Disconnected struct {
	Graceful bool
}

// LoggedIn acknowledges a successful login.
type LoggedIn struct {
	UserID     int    `json:"user_id"`
	AccessHash string `json:"acc_hash"`
	NewerBuild int    `json:"newer_build"`
	PicHash    string `json:"pic_hash,omitempty"`
}

// Banned rejects a login.
type Banned struct {
	Reason    string `json:"ban_reason"`
	ConnError bool   `json:"conn_error"`
}

// PlayStart announces a paired game.
type PlayStart struct {
	Opponent       PlayerSummary `json:"opp"`
	YouStarter     bool          `json:"you_starter"`
	OpponentBanned bool          `json:"banned"`
}

// WordTurn carries the opponent's word.
type WordTurn struct {
	Word string `json:"word"`
}

// ChatMessage carries a chat line from the opponent.
type ChatMessage struct {
	Text string `json:"msg"`
}

// FriendRequestIncoming is a friendship request or its outcome.
type FriendRequestIncoming struct {
	FromUserID int         `json:"opp_uid"`
	Outcome    RequestType `json:"result,omitempty"`
}

// FriendModeRequest is an invitation to a friend game.
type FriendModeRequest struct {
	Login  string `json:"login"`
	OppUID int    `json:"opp_uid"`
	Result string `json:"result,omitempty"`
}

// BanNotice tells the player they were banned by an admin or an opponent.
type BanNotice struct {
	ByAdmin bool   `json:"is_ban_by_admin"`
	Reason  string `json:"reason,omitempty"`
}

// BanList is the reply to a ban list query.
type BanList struct {
	Items []BanListItem `json:"list"`
}

// FriendsList is the reply to a friends list query.
type FriendsList struct {
	Items []FriendInfo `json:"list"`
}

// Timeout reports that the current move timed out.
type Timeout struct{}

// Unknown is any payload that could not be matched to a known variant.
type Unknown struct {
	Action string
	Raw    []byte
}

func (Connected) inbound()             {}
func (Disconnected) inbound()          {}
func (LoggedIn) inbound()              {}
func (Banned) inbound()                {}
func (PlayStart) inbound()             {}
func (WordTurn) inbound()              {}
func (ChatMessage) inbound()           {}
func (FriendRequestIncoming) inbound() {}
func (FriendModeRequest) inbound()     {}
func (BanNotice) inbound()             {}
func (BanList) inbound()               {}
func (FriendsList) inbound()           {}
func (Timeout) inbound()               {}
func (Unknown) inbound()               {}

// --------------------------------------------------------------------------
// Outbound messages
// --------------------------------------------------------------------------

// Outbound is the closed set of client requests.
type Outbound interface {
	Action() string
}

// LogIn authenticates the player.
type LogIn struct {
	Login              string `json:"login"`
	SnUID              string `json:"sn_uid"`
	SnType             string `json:"sn_type"`
	AccessToken        string `json:"access_token"`
	FirebaseToken      string `json:"fb_token"`
	UserID             int    `json:"user_id,omitempty"`
	AccessHash         string `json:"acc_hash,omitempty"`
	ClientVersion      string `json:"client_version"`
	ClientBuild        int    `json:"client_build"`
	CanReceiveMessages bool   `json:"can_rec_msg"`
}

// Play asks the server for a game.
type Play struct {
	Mode   PlayMode `json:"mode"`
	OppUID int      `json:"opp_uid,omitempty"`
}

// Word sends the player's word.
type Word struct {
	Word string `json:"word"`
}

// Chat sends a chat line.
type Chat struct {
	Text string `json:"msg"`
}

// FriendAction manages friendship with the current or given opponent.
type FriendAction struct {
	Type   RequestType `json:"type"`
	OppUID int         `json:"opp_uid,omitempty"`
}

// FriendModeResult answers a friend game invitation.
type FriendModeResult struct {
	Result int `json:"result"`
	OppUID int `json:"opp_uid"`
}

// Ban bans a user.
type Ban struct {
	TargetID int `json:"target_id"`
}

// BanListAction queries or edits the ban list.
type BanListAction struct {
	Type      RequestType `json:"type"`
	FriendUID int         `json:"friend_uid,omitempty"`
}

// AdminCommand runs a server admin command.
type AdminCommand struct {
	Command string `json:"command"`
}

// Avatar uploads or deletes the player's picture.
type Avatar struct {
	Type RequestType `json:"type"`
	Hash string      `json:"hash,omitempty"`
	MD5  string      `json:"md5,omitempty"`
}

func (LogIn) Action() string            { return ActionLogin }
func (Play) Action() string             { return ActionPlay }
func (Word) Action() string             { return ActionWord }
func (Chat) Action() string             { return ActionMsg }
func (FriendAction) Action() string     { return ActionFriend }
func (FriendModeResult) Action() string { return ActionFMReqResult }
func (Ban) Action() string              { return ActionBan }
func (BanListAction) Action() string    { return ActionBanList }
func (AdminCommand) Action() string     { return ActionAdmin }
func (Avatar) Action() string           { return ActionAvatar }
