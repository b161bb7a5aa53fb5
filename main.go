package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"multiroom/internal/api"
	"multiroom/internal/chat"
	"multiroom/internal/commands"
	"multiroom/internal/config"
	"multiroom/internal/presence"
	"multiroom/internal/session"
	"multiroom/internal/ws"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	flags := flag.NewFlagSet("multiroom", flag.ContinueOnError)
	room := flags.String("room", "", "Room code to join on start")
	link := flags.String("link", "", "Shared room link to open on start")
	name := flags.String("name", "", "Username, overrides CHAT_USERNAME")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *name != "" {
		cfg.Username = *name
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	dialer, err := ws.NewGorillaDialer(cfg.WSURL, cfg.HandshakeTimeout)
	if err != nil {
		return err
	}
	client := api.New(cfg.ServerURL, cfg.RequestTimeout)

	store := chat.NewStore()
	ctrl := session.New(session.Config{
		ValidateTimeout: cfg.ValidateTimeout,
		SendBuffer:      cfg.SendBuffer,
		Logger:          logger,
	}, store, client, dialer)
	poller := presence.NewPoller(client, presence.Config{
		Interval: cfg.PresenceInterval,
		Timeout:  cfg.RequestTimeout,
		Logger:   logger,
	})
	console := commands.NewConsole(ctrl, store, poller, out, commands.Options{
		Username:       cfg.Username,
		LinkBase:       cfg.LinkBase,
		TrustRoomLinks: cfg.TrustRoomLinks,
		Logger:         logger,
	})
	ctrl.SetObserver(console.OnUpdate)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Session event loop
	g.Go(func() error {
		err := ctrl.Run(gCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Console, ending it ends the session
	g.Go(func() error {
		defer stop()

		switch {
		case *link != "":
			console.OpenLink(gCtx, *link, cfg.Username)
		case *room != "":
			console.JoinRoom(gCtx, *room)
		}

		err := console.Run(gCtx, in)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("console closed")
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
