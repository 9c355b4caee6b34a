package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	lpsclient "github.com/quandastudio/lpsclient-go"
	"github.com/quandastudio/lpsclient-go/transport"
)

type fileConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Transport      string `toml:"transport"`
	Path           string `toml:"path"`
	Compression    bool   `toml:"compression"`
	ConnectTimeout string `toml:"connect_timeout"`
	ReadTimeout    string `toml:"read_timeout"`
	IdleGrace      string `toml:"idle_grace"`

	Login         string `toml:"login"`
	SnUID         string `toml:"sn_uid"`
	SnType        string `toml:"sn_type"`
	AccessToken   string `toml:"access_token"`
	ClientVersion string `toml:"client_version"`
	ClientBuild   int    `toml:"client_build"`
	PushToken     string `toml:"push_token"`

	Store           string `toml:"store"`
	FriendID        int    `toml:"friend_id"`
	PlayBackoffMin  string `toml:"play_backoff_min"`
	PlayBackoffMax  string `toml:"play_backoff_max"`
	MaxPlayAttempts int    `toml:"max_play_attempts"`
	LogLevel        string `toml:"log_level"`
}

type cliConfig struct {
	Client    lpsclient.Config
	Repo      lpsclient.RepositoryConfig
	Player    *lpsclient.PlayerData
	PushToken string
	StorePath string
	FriendID  int
	LogLevel  slog.Level
}

func defaultConfig() cliConfig {
	player := lpsclient.NewPlayerData("")
	player.ClientVersion = "lpsctl"
	return cliConfig{
		Client:   lpsclient.DefaultConfig("127.0.0.1"),
		Repo:     lpsclient.DefaultRepositoryConfig(),
		Player:   player,
		LogLevel: slog.LevelInfo,
	}
}

func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load lpsctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cliConfig{}, fmt.Errorf("load lpsctl config: unknown keys %v", undecoded)
	}

	tc := &cfg.Client.Transport
	if meta.IsDefined("host") {
		tc.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("transport") {
		switch k := transport.Kind(strings.ToLower(strings.TrimSpace(raw.Transport))); k {
		case transport.Socket, transport.WebSocket:
			tc.Kind = k
		default:
			return cliConfig{}, fmt.Errorf("parse transport: %w: %q", transport.ErrUnknownKind, raw.Transport)
		}
		// The default port follows the transport unless set explicitly.
		tc.Port = tc.Kind.DefaultPort()
	}
	if meta.IsDefined("port") {
		tc.Port = raw.Port
	}
	if meta.IsDefined("path") {
		tc.Path = raw.Path
	}
	if meta.IsDefined("compression") {
		tc.Compression = raw.Compression
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &tc.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &tc.ReadTimeout},
		{"idle_grace", raw.IdleGrace, &cfg.Client.IdleGrace},
		{"play_backoff_min", raw.PlayBackoffMin, &cfg.Repo.PlayBackoff.Min},
		{"play_backoff_max", raw.PlayBackoffMax, &cfg.Repo.PlayBackoff.Max},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	ad := &cfg.Player.AuthData
	if meta.IsDefined("login") {
		ad.Login = strings.TrimSpace(raw.Login)
	}
	if meta.IsDefined("sn_uid") {
		ad.SnUID = strings.TrimSpace(raw.SnUID)
	}
	if meta.IsDefined("sn_type") {
		ad.SnType = lpsclient.AuthType(strings.TrimSpace(raw.SnType))
	}
	if meta.IsDefined("access_token") {
		ad.AccessToken = raw.AccessToken
	}
	if meta.IsDefined("client_version") {
		cfg.Player.ClientVersion = raw.ClientVersion
	}
	if meta.IsDefined("client_build") {
		cfg.Player.ClientBuild = raw.ClientBuild
	}
	if meta.IsDefined("push_token") {
		cfg.PushToken = raw.PushToken
	}

	if meta.IsDefined("store") {
		cfg.StorePath = strings.TrimSpace(raw.Store)
	}
	if meta.IsDefined("friend_id") {
		cfg.FriendID = raw.FriendID
	}
	if meta.IsDefined("max_play_attempts") {
		cfg.Repo.MaxPlayAttempts = raw.MaxPlayAttempts
	}
	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return cliConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
	}
	return cfg, nil
}

// applyFlags overrides file settings with command line values. An empty
// login or a negative friend id leaves the file value.
func (c *cliConfig) applyFlags(login string, friend int) {
	if login != "" {
		c.Player.AuthData.Login = login
	}
	if friend >= 0 {
		c.FriendID = friend
	}
}

func (c *cliConfig) validate() error {
	if c.Player.AuthData.Login == "" {
		return errors.New("lpsctl config: login is required")
	}
	return nil
}
