package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	lpsclient "github.com/quandastudio/lpsclient-go"
	"github.com/quandastudio/lpsclient-go/frame"
	"github.com/quandastudio/lpsclient-go/store"
)

// gameServer plays one scripted game on the first connection and reports
// the word the client sent.
func gameServer(t *testing.T) (port int, gotWord <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	words := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		expect := func(action string) map[string]any {
			for {
				payload, err := frame.ReadFrame(br, 0)
				if err != nil {
					return nil
				}
				var body map[string]any
				if json.Unmarshal(payload, &body) == nil && body["action"] == action {
					return body
				}
			}
		}

		if expect("login") == nil {
			return
		}
		frame.WriteFrame(conn, []byte(`{"action":"logged_in","user_id":5,"acc_hash":"z","newer_build":1}`))
		if expect("play") == nil {
			return
		}
		frame.WriteFrame(conn, []byte(`{"action":"join","opp":{"login":"bob","user_id":6},"you_starter":false}`))
		frame.WriteFrame(conn, []byte(`{"action":"word","word":"apple"}`))
		if w := expect("word"); w != nil {
			words <- w["word"].(string)
		}
	}()

	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return port, words
}

func TestRunPlaysOneGame(t *testing.T) {
	port, gotWord := gameServer(t)
	storePath := filepath.Join(t.TempDir(), "auth")

	cfg := defaultConfig()
	cfg.Client.Transport.Host = "127.0.0.1"
	cfg.Client.Transport.Port = port
	cfg.Client.Transport.ConnectTimeout = 2 * time.Second
	cfg.Player.AuthData.Login = "alice"
	cfg.StorePath = storePath

	stdin, typed := io.Pipe()
	t.Cleanup(func() { typed.Close() })
	go io.WriteString(typed, "pear\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := run(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), stdin, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	select {
	case w := <-gotWord:
		if w != "pear" {
			t.Errorf("server got word %q", w)
		}
	default:
		t.Error("server received no word")
	}
	if !strings.Contains(out.String(), "playing against bob (id 6), opponent first") {
		t.Errorf("output: %q", out.String())
	}

	st, err := store.Open(store.Options{Path: storePath, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	restored := lpsclient.NewAuthData("alice")
	if ok, _ := st.Restore(&restored); !ok || restored.UserID != 5 {
		t.Errorf("credentials not saved: %+v", restored)
	}
}
