package main

import (
	"ShopChat/entity"
	"ShopChat/impl/core"
	"ShopChat/internal/badge"
	"ShopChat/internal/bridge"
	"ShopChat/internal/bus"
	"ShopChat/internal/chatapi"
	"ShopChat/internal/config"
	"ShopChat/internal/database"
	"ShopChat/internal/http-server/api"
	"ShopChat/internal/lib/logger"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/service/auth"
	"ShopChat/internal/store"
	"ShopChat/internal/view"
	"ShopChat/internal/ws"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	tuiMode := flag.Bool("tui", false, "run the interactive terminal chat")
	flag.Parse()

	// a missing .env is fine
	_ = godotenv.Load()

	conf := config.MustLoad(*configPath)
	env := conf.Env
	if *tuiMode {
		// the terminal program owns stdout
		env = "prod"
	}
	lg := logger.SetupLogger(env, *logPath)

	role, err := entity.ParseRole(conf.Role)
	if err != nil {
		lg.Error("invalid role", sl.Err(err))
		return
	}

	lg.Info("starting shopchat",
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
		slog.String("role", string(role)),
	)
	lg.Debug("debug messages enabled")

	signals := bus.New[bus.Signal](lg)

	session := auth.NewSession(lg)
	session.SetSignals(signals)
	if conf.Auth.Token != "" {
		session.Set(conf.Auth.Token)
		lg.With(sl.Secret("token", conf.Auth.Token)).Info("credential loaded")
	}

	gateway := chatapi.New(chatapi.Options{
		BaseURL:         conf.Api.BaseURL,
		Role:            role,
		Timeout:         conf.Api.Timeout,
		RetryMaxElapsed: conf.Api.RetryMaxElapsed,
	}, session, lg)

	wsOpts := ws.Options{
		BaseURL:              conf.Ws.BaseURL,
		Role:                 role,
		MaxReconnectAttempts: conf.Ws.MaxReconnectAttempts,
		ReconnectDelay:       conf.Ws.ReconnectDelay,
		PingPeriod:           conf.Ws.PingPeriod,
	}
	active := ws.NewConnection(wsOpts, session, lg)
	background := ws.NewConnection(wsOpts, session, lg)

	unread := badge.New(conf.Badge.GracePeriod, lg)

	handler := core.New(role, lg)
	handler.SetGateway(gateway)
	handler.SetChannels(active, background)
	handler.SetBadge(unread, conf.Badge.PollInterval)
	handler.SetSignals(signals)
	handler.SetReadyTimeout(conf.Ws.ReadyTimeout)
	handler.SetAuthKey(conf.Listen.ApiKey)

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.With(
			sl.Err(err),
		).Error("mongo client")
	}
	if db != nil {
		indexCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err = db.EnsureIndexes(indexCtx); err != nil {
			lg.With(sl.Err(err)).Warn("transcript archive indexes")
		}
		cancel()
		handler.SetArchive(db)
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("user", conf.Mongo.User),
			slog.String("database", conf.Mongo.Database),
		).Info("transcript archive initialized")
	}

	if err = handler.Init(); err != nil {
		lg.Error("core init", sl.Err(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = handler.Start(ctx); err != nil {
		lg.Error("chat start", sl.Err(err))
		return
	}
	defer handler.Stop()

	if conf.Listen.Enabled {
		hub := bridge.NewHub(lg)
		hub.SetHandler(handler)
		go hub.Run(ctx)
		handler.Store().Subscribe(hub.BroadcastChange)
		unread.Subscribe(hub.BroadcastBadge)

		go func() {
			if err := api.New(ctx, conf, lg, handler, hub); err != nil {
				lg.Error("server start", sl.Err(err))
				stop()
			}
		}()
	}

	if *tuiMode {
		changes := make(chan struct{}, 1)
		notify := func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		}
		handler.Store().Subscribe(func(store.Change) { notify() })
		unread.Subscribe(func(int) { notify() })

		if err = view.Run(handler, changes); err != nil {
			lg.Error("terminal program", sl.Err(err))
		}
		return
	}

	<-ctx.Done()
	lg.Info("service stopped")
}
