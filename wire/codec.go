package wire

import (
	"encoding/json"
	"errors"
)

var errMissingField = errors.New("wire: required field missing")

// Encode serialises an outbound message into a frame payload. The variant
// fields are flattened next to the action discriminator.
func Encode(m Outbound) []byte {
	// Marshalling the fixed struct set cannot fail.
	body, _ := json.Marshal(m)
	fields := make(map[string]json.RawMessage)
	_ = json.Unmarshal(body, &fields)
	fields[fieldAction], _ = json.Marshal(m.Action())
	out, _ := json.Marshal(fields)
	return out
}

// Decode maps a frame payload to an inbound message. It never fails:
// payloads with an unknown action or an invalid shape decode to Unknown.
func Decode(data []byte) Inbound {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return unknown("", data)
	}
	decode, ok := decoders[head.Action]
	if !ok {
		return unknown(head.Action, data)
	}
	msg, err := decode(data)
	if err != nil {
		return unknown(head.Action, data)
	}
	return msg
}

func unknown(action string, data []byte) Unknown {
	raw := make([]byte, len(data))
	copy(raw, data)
	return Unknown{Action: action, Raw: raw}
}

var decoders = map[string]func([]byte) (Inbound, error){
	ActionLoggedIn: func(data []byte) (Inbound, error) {
		var m struct {
			UserID *int `json:"user_id"`
			LoggedIn
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.UserID == nil {
			return nil, errMissingField
		}
		m.LoggedIn.UserID = *m.UserID
		return m.LoggedIn, nil
	},
	ActionLoginError: decodeAs[Banned],
	ActionJoin: func(data []byte) (Inbound, error) {
		var m struct {
			Opponent       *PlayerSummary `json:"opp"`
			YouStarter     bool           `json:"you_starter"`
			OpponentBanned bool           `json:"banned"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Opponent == nil {
			return nil, errMissingField
		}
		return PlayStart{Opponent: *m.Opponent, YouStarter: m.YouStarter, OpponentBanned: m.OpponentBanned}, nil
	},
	ActionWord: func(data []byte) (Inbound, error) {
		var m struct {
			Word *string `json:"word"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Word == nil {
			return nil, errMissingField
		}
		return WordTurn{Word: *m.Word}, nil
	},
	ActionMsg: func(data []byte) (Inbound, error) {
		var m struct {
			Text *string `json:"msg"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Text == nil {
			return nil, errMissingField
		}
		return ChatMessage{Text: *m.Text}, nil
	},
	ActionFriendRequest: decodeAs[FriendRequestIncoming],
	ActionFMRequest:     decodeAs[FriendModeRequest],
	ActionBanned:        decodeAs[BanNotice],
	ActionBanList: func(data []byte) (Inbound, error) {
		m, err := decodeAs[BanList](data)
		if err != nil {
			return nil, err
		}
		l := m.(BanList)
		if l.Items == nil {
			l.Items = []BanListItem{}
		}
		return l, nil
	},
	ActionFriendsList: func(data []byte) (Inbound, error) {
		m, err := decodeAs[FriendsList](data)
		if err != nil {
			return nil, err
		}
		l := m.(FriendsList)
		if l.Items == nil {
			l.Items = []FriendInfo{}
		}
		return l, nil
	},
	ActionTimeout: func([]byte) (Inbound, error) { return Timeout{}, nil },
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
