package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"roomcast/adapter/natsbridge"
	"roomcast/adapter/redisbridge"
	"roomcast/hub"
	httpServer "roomcast/server/http"
	websocketServer "roomcast/server/websocket"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		wsPort        = fs.IntP("ws-port", "p", websocketServer.DefaultPort, "websocket listen port")
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "room admin api listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		ssl           = fs.Bool("ssl", false, "serve websocket over TLS")
		certFile      = fs.String("cert", "", "TLS certificate file")
		keyFile       = fs.String("key", "", "TLS key file")
		redisAddr     = fs.String("redis-addr", "", "redis address enabling the redis bridge adapter")
		natsURL       = fs.String("nats-url", "", "nats url enabling the nats bridge adapter")
		rooms         = fs.StringSlice("room", nil, "rooms to create at startup")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	registry := hub.NewRegistry(&logger)
	for _, name := range *rooms {
		if _, err = registry.CreateRoom(name); err != nil {
			logger.Fatal().Err(err).Str("room", name).Msg("failed to create room")
		}
	}

	wsSrv, err := websocketServer.NewServer(websocketServer.Config{
		Logger:   &logger,
		Registry: registry,
		Port:     *wsPort,
		SSL:      *ssl,
		CertFile: *certFile,
		KeyFile:  *keyFile,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create websocket server")
	}
	apiSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Directory:  registry,
		ListenAddr: *apiListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *redisAddr != "" && *natsURL != "":
		logger.Fatal().Msg("a server accepts a single adapter, pick redis or nats")
	case *redisAddr != "":
		bridge := redisbridge.New(redisbridge.Config{Logger: &logger, Addr: *redisAddr})
		if err = wsSrv.SetAdapter(ctx, bridge); err != nil {
			logger.Fatal().Err(err).Msg("failed to attach redis bridge")
		}
	case *natsURL != "":
		bridge := natsbridge.New(natsbridge.Config{Logger: &logger, URL: *natsURL})
		if err = wsSrv.SetAdapter(ctx, bridge); err != nil {
			logger.Fatal().Err(err).Msg("failed to attach nats bridge")
		}
	}

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go wsSrv.Run(ctx, wg, errc)
	go apiSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
