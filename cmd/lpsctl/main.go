// Command lpsctl logs in to an LPS game server, plays one game and relays
// it on the terminal. Lines typed on stdin are sent as words; lines
// starting with "/msg " are sent as chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	lpsclient "github.com/quandastudio/lpsclient-go"
	"github.com/quandastudio/lpsclient-go/store"
)

func main() {
	configPath := flag.String("config", "lpsctl.toml", "path to the TOML config file")
	login := flag.String("login", "", "override the configured login")
	friend := flag.Int("friend", -1, "play with this friend's user id instead of a random opponent")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err == nil {
		cfg.applyFlags(*login, *friend)
		err = cfg.validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lpsctl: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "lpsctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliConfig, logger *slog.Logger, in io.Reader, out io.Writer) error {
	if cfg.StorePath != "" {
		st, err := store.Open(store.Options{Path: cfg.StorePath, Logger: logger})
		if err != nil {
			return err
		}
		defer st.Close()
		found, err := st.Restore(&cfg.Player.AuthData)
		if err != nil {
			return err
		}
		if found {
			logger.Info("restored credentials", "login", cfg.Player.AuthData.Login, "user_id", cfg.Player.AuthData.UserID)
		}
		cfg.Repo.Saver = st
	}

	cfg.Client.Logger = logger
	cfg.Repo.Logger = logger
	client := lpsclient.NewClient(cfg.Client)
	repo := lpsclient.NewRepository(client, lpsclient.StaticToken(cfg.PushToken), cfg.Repo)
	defer repo.Disconnect()

	res, err := repo.Login(ctx, cfg.Player, lpsclient.NoAvatar{})
	if err != nil {
		return err
	}
	if res.NewerBuild > cfg.Player.ClientBuild {
		logger.Warn("newer client build available", "build", res.NewerBuild)
	}

	// Stream subscriptions keep the shared connection open for the session.
	session, cancel := context.WithCancel(ctx)
	defer cancel()
	words := repo.Words(session)
	msgs := repo.Messages(session)

	match, err := repo.Play(ctx, cfg.FriendID > 0, cfg.FriendID)
	if err != nil {
		return err
	}
	starter := "opponent"
	if match.YouStarter {
		starter = "you"
	}
	fmt.Fprintf(out, "playing against %s (id %d), %s first\n", match.Opponent.Login, match.Opponent.UserID, starter)

	lines := readLines(session, in)
	for {
		select {
		case w, ok := <-words:
			if !ok {
				fmt.Fprintln(out, "disconnected")
				return nil
			}
			fmt.Fprintf(out, "%s: %s\n", match.Opponent.Login, w.Word)
		case m, ok := <-msgs:
			if !ok {
				fmt.Fprintln(out, "disconnected")
				return nil
			}
			fmt.Fprintf(out, "%s says: %s\n", match.Opponent.Login, m.Text)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := sendLine(ctx, repo, line); err != nil {
				logger.Warn("send failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sendLine(ctx context.Context, repo *lpsclient.Repository, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case strings.HasPrefix(line, "/msg "):
		return repo.SendMessage(ctx, strings.TrimPrefix(line, "/msg "))
	default:
		return repo.SendWord(ctx, line)
	}
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
