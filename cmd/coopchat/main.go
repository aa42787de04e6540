// Command coopchat is a line-oriented terminal client: it logs in,
// opens one chat, prints incoming events, and sends stdin lines as
// messages.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coopchat/coopchat-client/internal/config"
	"github.com/coopchat/coopchat-client/internal/log"
	"github.com/coopchat/coopchat-client/internal/proto"
	"github.com/coopchat/coopchat-client/internal/rest"
	"github.com/coopchat/coopchat-client/internal/session"
	"github.com/coopchat/coopchat-client/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coopchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	apiURL := flag.String("api", "", "API base URL (overrides config)")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	register := flag.Bool("register", false, "register a new account instead of logging in")
	chatID := flag.Int64("chat", 0, "chat id to open")
	flag.Parse()

	if *username == "" || *password == "" {
		return errors.New("-user and -pass are required")
	}

	bootLogger := log.New("warn")
	cfg, _, err := config.Load(bootLogger, *configPath)
	if err != nil {
		return err
	}
	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}
	logger := log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := rest.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)

	var token string
	if *register {
		token, err = api.Register(ctx, *username, *password)
	} else {
		token, err = api.Login(ctx, *username, *password)
	}
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	sess, err := session.New(cfg.APIBaseURL, api, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Start(ctx, token); err != nil {
		return err
	}

	unsubState := sess.OnConnStateChange(func(state ws.State) {
		fmt.Printf("* connection %s\n", state)
	})
	defer unsubState()

	if *chatID == 0 {
		printRoster(sess)
		return nil
	}

	if err := sess.OpenChat(ctx, *chatID); err != nil {
		return fmt.Errorf("open chat %d: %w", *chatID, err)
	}
	for _, msg := range sess.Messages(*chatID) {
		fmt.Printf("[%s] %s\n", msg.Username, msg.Content)
	}

	unsub := sess.Subscribe(func(ev proto.Event) {
		printEvent(sess.User().Username, *chatID, ev)
	})
	defer unsub()

	fmt.Printf("Connected to chat %d as %s. Type messages, /chats for the roster, /quit to exit.\n", *chatID, *username)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
			case text == "/quit":
				return nil
			case text == "/chats":
				printRoster(sess)
			default:
				if _, err := sess.SendText(ctx, *chatID, text); err != nil {
					fmt.Printf("* send failed: %v (message kept, retry by sending again)\n", err)
				}
			}
		}
	}
}

func printRoster(sess *session.Session) {
	for _, chat := range sess.Chats() {
		name := "(unnamed)"
		if chat.Name != nil {
			name = *chat.Name
		}
		preview := ""
		if chat.LastMessage != nil {
			preview = *chat.LastMessage
		}
		fmt.Printf("%5d  %-20s unread=%-3d %s\n", chat.ID, name, chat.UnreadCount, preview)
	}
}

func printEvent(self string, chatID int64, ev proto.Event) {
	switch ev.Type {
	case proto.TypeMessage:
		if ev.Message != nil && ev.Message.ChatID == chatID && ev.Message.Username != self {
			fmt.Printf("[%s] %s\n", ev.Message.Username, ev.Message.Content)
		}
	case proto.TypeBotStream:
		// Printed once finished, via the closing message event.
	case proto.TypeTyping:
		if ev.ChatID == chatID && ev.Username != self {
			fmt.Printf("* %s is typing...\n", ev.Username)
		}
	case proto.TypeUserJoined:
		if ev.ChatID == chatID {
			fmt.Printf("* %s joined\n", ev.Username)
		}
	case proto.TypeUserLeft:
		if ev.ChatID == chatID {
			fmt.Printf("* %s left\n", ev.Username)
		}
	case proto.TypeChatCreated, proto.TypeChatInvite:
		if ev.Notification != "" {
			fmt.Printf("* %s\n", ev.Notification)
		}
	}
}
