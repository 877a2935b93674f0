package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"

	"github.com/gosuda/portal-chat/anon-chat/channel"
	"github.com/gosuda/portal-chat/anon-chat/identity"
	"github.com/gosuda/portal-chat/anon-chat/session"
	"github.com/gosuda/portal-chat/anon-chat/storage"
)

var rootCmd = &cobra.Command{
	Use:   "anon-chat",
	Short: "Portal demo: anonymous multi-room chat with idle cleanup",
	RunE:  runChat,
}

func init() {
	registerFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute anon-chat command")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DataPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DataPath).Msg("[chat] open store failed; running in memory only")
		if db, err = storage.OpenMemory(); err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("[chat] store close error")
		}
	}()

	counter, closeCounter := newCounter(ctx, cfg, db)
	defer closeCounter()

	var ch channel.Channel
	idOpts := []identity.Option{}
	switch cfg.Channel {
	case channelLocal:
		ch = channel.NewLocal(db)
		idOpts = append(idOpts, identity.WithRoomScopedRecords())
	default:
		ch = channel.NewFeed(db, cfg.HistoryLimit)
	}

	mgr := session.NewManager(session.Config{
		Channel:     ch,
		Identities:  identity.NewStore(counter, identity.NewPebbleRecords(db), idOpts...),
		IdleTimeout: cfg.IdleTimeout,
		Sanitize:    SanitizeMessage,
	})
	defer mgr.Close()

	srv := newServer(cfg.Name, mgr)
	handler := srv.NewHandler()

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.ServerURLs) > 0 {
		ln, client, err := listenRelay(cfg)
		if err != nil {
			return err
		}
		log.Info().Strs("relays", cfg.ServerURLs).Str("name", cfg.Name).Msg("[chat] listening on relay")
		g.Go(func() error {
			if err := http.Serve(ln, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && gctx.Err() == nil {
				return fmt.Errorf("relay http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			_ = ln.Close()
			_ = client.Close()
			return nil
		})
	}

	if cfg.Port >= 0 {
		httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[chat] serving locally at http://127.0.0.1:%d", cfg.Port)
		g.Go(func() error {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("local http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("[chat] http server shutdown error")
			}
			return nil
		})
	}

	// Hijacked websocket connections outlive the HTTP servers.
	g.Go(func() error {
		<-gctx.Done()
		srv.closeAll()
		done := make(chan struct{})
		go func() {
			srv.wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Warn().Msg("[chat] websocket clients did not close in time")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("[chat] shutdown complete")
	return err
}

func listenRelay(cfg Config) (net.Listener, *sdk.RDClient, error) {
	cred := sdk.NewCredential()
	if cfg.CredKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.CredKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decode cred key: %w", err)
		}
		cred, err = cryptoops.NewCredentialFromPrivateKey(key)
		if err != nil {
			return nil, nil, fmt.Errorf("new credential from private key: %w", err)
		}
	}

	client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = cfg.ServerURLs })
	if err != nil {
		return nil, nil, fmt.Errorf("new client: %w", err)
	}
	ln, err := client.Listen(cred, cfg.Name, []string{"http/1.1"},
		sdk.WithDescription("Anonymous multi-room chat"),
		sdk.WithTags([]string{"chat", "anonymous"}),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("listen: %w", err)
	}
	return ln, client, nil
}

// newCounter picks the Redis counter when an address is configured. An
// unreachable Redis is not fatal: joins then get fallback identities.
func newCounter(ctx context.Context, cfg Config, db *storage.DB) (identity.Counter, func()) {
	if cfg.RedisAddr == "" {
		return identity.NewPebbleCounter(db), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("[identity] redis unreachable; joins will use fallback identities")
	} else {
		log.Info().Str("addr", cfg.RedisAddr).Msg("[identity] using redis sequence counter")
	}
	return identity.NewRedisCounter(rdb, envPrefix+":"), func() { _ = rdb.Close() }
}
