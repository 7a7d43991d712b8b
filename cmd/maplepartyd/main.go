// maplepartyd is the local party-coordination daemon. It keeps the sqlite
// replica, talks to the remote backend when it can, and serves the UI over
// loopback HTTP plus a websocket bridge.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/CristianFreitas/maple-story-party/internal/buff"
	"github.com/CristianFreitas/maple-story-party/internal/config"
	"github.com/CristianFreitas/maple-story-party/internal/httpapi"
	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
	"github.com/CristianFreitas/maple-story-party/internal/notify"
	"github.com/CristianFreitas/maple-story-party/internal/realtime"
	"github.com/CristianFreitas/maple-story-party/internal/remote"
	"github.com/CristianFreitas/maple-story-party/internal/session"
	"github.com/CristianFreitas/maple-story-party/internal/synccode"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fatal("build logger", err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("daemon exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	store, err := localstore.Open(filepath.Join(cfg.DataDir, "replica.db"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	backend := remote.NewClient(cfg.BackendURL, nil, log)
	if backend.Available(ctx) {
		log.Info("backend reachable", zap.String("url", cfg.BackendURL))
	} else {
		log.Warn("backend unreachable, starting in local-only mode",
			zap.String("url", cfg.BackendURL))
	}

	sess, err := session.New(ctx, store, backend, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	exchange := synccode.NewExchange(store, log)
	if purged, err := exchange.SweepExpired(ctx); err != nil {
		log.Warn("sync-code sweep failed", zap.Error(err))
	} else if purged > 0 {
		log.Info("purged expired sync codes", zap.Int("count", purged))
	}

	buffs, err := buff.New(ctx, backend, store, cfg.ResetTimezone, log)
	if err != nil {
		return err
	}
	if swept := buffs.SweepWeek(ctx); swept > 0 {
		log.Info("dropped last week's buff schedules", zap.Int("count", swept))
	}

	dispatcher := notify.New(ctx, &notify.DesktopNotifier{}, store, log)
	defer dispatcher.Close()

	feed := httpapi.NewChatFeed()
	channel := realtime.NewChannel(cfg.SocketURL, store, log,
		chatHandlers(ctx, feed, dispatcher, sess, log),
		realtime.WithTypingTimeout(cfg.TypingTimeout))

	if err := channel.Connect(ctx); err != nil {
		log.Warn("realtime channel unavailable, chat is local-only", zap.Error(err))
	}
	defer channel.Disconnect()

	api := &httpapi.Server{
		Session: sess,
		Sync:    exchange,
		Buffs:   buffs,
		Chat:    channel,
		Notify:  dispatcher,
		Feed:    feed,
		Log:     log,
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.SetupRoutes(api),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		sess.RunWatcher(gctx, cfg.WatchInterval)
		return nil
	})

	return g.Wait()
}

// chatHandlers fans realtime events out to the UI bridge and, for other
// players' messages and roster changes, to the notification dispatcher.
func chatHandlers(ctx context.Context, feed *httpapi.ChatFeed, dispatcher *notify.Dispatcher, sess *session.Store, log *zap.Logger) realtime.Handlers {
	ownID := func() string {
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		snap, err := sess.Snapshot(sctx)
		if err != nil || snap.Profile == nil {
			return ""
		}
		return snap.Profile.ID
	}

	// myParty resolves a chat room to one of the player's own parties. Rooms
	// for parties the player is not in never raise roster notifications.
	myParty := func(roomID string) (model.PartyListing, bool) {
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		snap, err := sess.Snapshot(sctx)
		if err != nil {
			return model.PartyListing{}, false
		}
		for _, id := range snap.MyParties {
			if id != roomID {
				continue
			}
			for _, p := range snap.Parties {
				if p.ID == roomID {
					return p, true
				}
			}
		}
		return model.PartyListing{}, false
	}

	return realtime.Handlers{
		OnMessage: func(roomID string, msg model.ChatMessage) {
			feed.Publish(httpapi.ChatEvent{
				Type:    "chatMessage",
				RoomID:  roomID,
				Message: &msg,
			})
			if msg.PlayerID != ownID() {
				dispatcher.ChatMessage(ctx, roomID, msg)
			}
		},
		OnUserJoined: func(roomID, playerName, playerID string, ts time.Time) {
			feed.Publish(httpapi.ChatEvent{
				Type: "userJoined", RoomID: roomID,
				PlayerName: playerName, PlayerID: playerID, Timestamp: ts,
			})
			if playerID == ownID() {
				return
			}
			if party, ok := myParty(roomID); ok {
				dispatcher.PartyUpdate(ctx, party, playerName+" joined the party")
			}
		},
		OnUserLeft: func(roomID, playerName string, ts time.Time) {
			feed.Publish(httpapi.ChatEvent{
				Type: "userLeft", RoomID: roomID,
				PlayerName: playerName, Timestamp: ts,
			})
			if party, ok := myParty(roomID); ok {
				dispatcher.PartyUpdate(ctx, party, playerName+" left the party")
			}
		},
		OnTyping: func(roomID, playerName string, isTyping bool) {
			feed.Publish(httpapi.ChatEvent{
				Type: "userTyping", RoomID: roomID,
				PlayerName: playerName, IsTyping: isTyping,
			})
		},
		OnStateChange: func(s realtime.State) {
			log.Info("realtime channel state", zap.Stringer("state", s))
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func fatal(msg string, err error) {
	os.Stderr.WriteString(msg + ": " + err.Error() + "\n")
	os.Exit(1)
}
