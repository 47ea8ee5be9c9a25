// Copyright 2024-2026 The avbot Authors

// Command avbot is a multi-protocol chat relay: it joins the same logical
// channel on XMPP MUC, IRC and QQ and forwards each room's messages to the
// channel's sibling rooms, with a small dot-command interface on top.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/avplayer/avbot/pkg/adapter"
	"github.com/avplayer/avbot/pkg/bot"
	"github.com/avplayer/avbot/pkg/botcmd"
	"github.com/avplayer/avbot/pkg/config"
	"github.com/avplayer/avbot/pkg/irc"
	"github.com/avplayer/avbot/pkg/proxychain"
	"github.com/avplayer/avbot/pkg/qq"
	"github.com/avplayer/avbot/pkg/relay"
	"github.com/avplayer/avbot/pkg/xmpp"
)

// Version is filled at build time with -ldflags.
var Version = "unknown"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "avbot:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	printExample := flag.Bool("example-config", false, "print the example configuration and exit")
	flag.Parse()

	if *printExample {
		fmt.Print(config.ExampleConfig)
		return nil
	}

	log := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain := proxychain.New(cfg.Proxychain(), log)

	b := bot.New(log)
	b.SetCommandHandler(botcmd.New(Version, log))
	for _, cc := range cfg.Channels {
		ch := relay.NewChannel(cc.Name)
		ch.PreambleFormatter = cfg.FormatPreamble
		for _, r := range cc.Rooms {
			ch.AddRoom(r.Protocol, r.Room)
		}
		b.AddChannel(ch)
	}

	handler := b.HandleInbound
	if cfg.Upload.URL != "" {
		pub := newImagePublisher(cfg.Upload.URL, log)
		handler = func(origin relay.ChannelIdentifier, msg relay.Message) {
			pub.publish(origin, msg)
			b.HandleInbound(origin, msg)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.XMPP != nil {
		ad := adapter.New(adapter.Config{
			Server:          cfg.XMPP.Server,
			FallbackService: "xmpp-client",
			Nick:            cfg.XMPP.Nick,
			Rooms:           roomsFor(cfg, "xmpp"),
			Handler:         handler,
		}, chain, log)
		eng, err := xmpp.New(xmpp.Config{
			User:     cfg.XMPP.User,
			Password: cfg.XMPP.Password,
			Resource: cfg.XMPP.Nick,
		}, ad, log)
		if err != nil {
			return err
		}
		ad.Bind(eng)
		b.RegisterSender(ad)
		g.Go(func() error { return ad.Run(ctx) })
	}

	if cfg.IRC != nil {
		ad := adapter.New(adapter.Config{
			Server:          cfg.IRC.Server,
			FallbackService: "6667",
			Nick:            cfg.IRC.Nick,
			Rooms:           roomsFor(cfg, "irc"),
			Handler:         handler,
		}, chain, log)
		eng := irc.New(irc.Config{
			Nick:     cfg.IRC.Nick,
			User:     cfg.IRC.User,
			RealName: cfg.IRC.RealName,
		}, ad, log)
		ad.Bind(eng)
		b.RegisterSender(ad)
		g.Go(func() error { return ad.Run(ctx) })
	}

	if cfg.QQ != nil {
		client := qq.NewClient(qq.Config{
			GatewayURL:  cfg.QQ.Gateway,
			AccessToken: cfg.QQ.AccessToken,
			Handler:     handler,
		}, log)
		b.RegisterSender(client)
		g.Go(func() error { return client.Run(ctx) })
	}

	log.Info().Str("version", Version).Int("channels", len(cfg.Channels)).Msg("avbot starting")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("avbot shutting down")
		return nil
	}
	return err
}

// roomsFor collects every configured room of one protocol, across all
// channels, preserving channel and room order.
func roomsFor(cfg *config.Config, protocol string) []string {
	var rooms []string
	for _, ch := range cfg.Channels {
		for _, r := range ch.Rooms {
			if r.Protocol == protocol {
				rooms = append(rooms, r.Room)
			}
		}
	}
	return rooms
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("AVBOT_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
