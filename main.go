package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"giglink/internal/api"
	"giglink/internal/auth"
	"giglink/internal/chat"
	"giglink/internal/config"
	"giglink/internal/content"
	"giglink/internal/models"
	"giglink/internal/notify"
	"giglink/internal/rest"
	"giglink/internal/session"
	"giglink/internal/storage"
	"giglink/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	username := flag.String("user", "", "Account email for login (omit to reuse the saved session)")
	password := flag.String("password", "", "Account password for login")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cache, err := storage.NewStateCache(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	sess := session.NewStore()
	if token, err := cache.LoadToken(); err == nil {
		sess.SetToken(token)
	}
	// Keep the persisted token in sync with every rotation, including the
	// empty token on logout.
	sess.OnChange(func(token string) {
		if err := cache.SaveToken(token); err != nil {
			slog.Warn("persisting token failed", "error", err)
		}
	})

	client := rest.NewClient(cfg.APIBaseURL, sess, cfg.RequestTimeout)
	authService := auth.NewService(client, sess)

	me, ok := sess.Current()
	if !ok {
		if *username == "" || *password == "" {
			return errors.New("no saved session: -user and -password are required")
		}
		me, err = authService.Login(ctx, *username, *password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}
	slog.Info("logged in", "user_id", me.UserID, "username", me.Username)

	chatAPI := api.NewChatAPI(client)
	notifAPI := api.NewNotificationAPI(client)
	aggregator := notify.NewAggregator(chatAPI, notifAPI, cfg.PageSize)

	wsClient := ws.NewClient(ws.Config{
		URL:            cfg.WSBaseURL,
		Session:        sess,
		ReconnectDelay: cfg.ReconnectDelay,
	})

	engine := chat.New(ctx, chat.Config{
		Self:           me,
		Service:        chatAPI,
		Publisher:      wsClient,
		PageSize:       cfg.PageSize,
		TypingExpiry:   cfg.TypingExpiry,
		TypingDebounce: cfg.TypingDebounce,
		OnRead:         aggregator.ConversationRead,
	})

	wsClient.Subscribe(ws.MessageTopic(me.Username), func(body json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			slog.Warn("bad message payload", "error", err)
			return
		}
		engine.OnPush(ctx, msg)
		aggregator.OnPush(ctx)
		printConversation(engine)
	})
	wsClient.Subscribe(ws.TypingTopic(me.Username), func(body json.RawMessage) {
		var ev models.TypingEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			slog.Warn("bad typing payload", "error", err)
			return
		}
		engine.OnTyping(ev)
	})
	wsClient.Subscribe(ws.NotificationTopic(me.Username), func(body json.RawMessage) {
		var n models.Notification
		if err := json.Unmarshal(body, &n); err != nil {
			slog.Warn("bad notification payload", "error", err)
			return
		}
		aggregator.OnNotification(n)
		fmt.Printf("  [%s] %s\n", n.Type, content.Sanitize(n.Title))
	})

	// Cached snapshot first, then the authoritative refresh.
	if cached, err := cache.LoadConversations(); err == nil && len(cached) > 0 {
		printSummaries(cached)
	}
	if err := aggregator.RefreshConversations(ctx); err != nil {
		slog.Warn("conversation list refresh failed", "error", err)
	} else if err := cache.SaveConversations(aggregator.Conversations()); err != nil {
		slog.Warn("caching conversation list failed", "error", err)
	}
	if err := aggregator.RefreshBadge(ctx); err != nil {
		slog.Warn("unread badge fetch failed", "error", err)
	}

	// A terminal client is always "focused".
	engine.SetFocused(ctx, true)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsClient.Run(gCtx)
	})

	g.Go(func() error {
		defer wsClient.Disconnect()
		return repl(gCtx, engine, aggregator, cache)
	})

	return g.Wait()
}

func repl(ctx context.Context, engine *chat.Engine, aggregator *notify.Aggregator, cache *storage.StateCache) error {
	fmt.Println("commands: /list, /open <userId>, /notif, /quit; anything else sends to the open conversation")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/list":
			if err := aggregator.RefreshConversations(ctx); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			_ = cache.SaveConversations(aggregator.Conversations())
			printSummaries(aggregator.Conversations())
		case line == "/notif":
			list, err := aggregator.OpenPanel(ctx)
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			for _, n := range list {
				fmt.Printf("  [%s] %s: %s\n", n.Type, content.Sanitize(n.Title), content.Sanitize(n.Message))
			}
		case strings.HasPrefix(line, "/open "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/open ")), 10, 64)
			if err != nil {
				fmt.Println("! usage: /open <userId>")
				continue
			}
			if err := engine.Select(ctx, id); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			printConversation(engine)
		default:
			engine.InputChanged()
			if err := engine.SendMessage(ctx, line); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			engine.InputBlur()
			printConversation(engine)
		}
	}
	return scanner.Err()
}

func printSummaries(list []models.ConversationSummary) {
	for _, c := range list {
		marker := ""
		if c.UnreadCount > 0 {
			marker = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Printf("  #%d %s%s\n", c.ConversationID, content.Sanitize(c.Username), marker)
	}
}

func printConversation(engine *chat.Engine) {
	if engine.Phase() != chat.PhaseReady {
		return
	}
	_, other := engine.Other()
	for _, m := range engine.Messages() {
		fmt.Printf("  %s: %s\n", content.Sanitize(m.SenderUsername), content.RenderMessage(m.Content))
	}
	if engine.PeerTyping() {
		fmt.Printf("  %s is typing...\n", content.Sanitize(other))
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
