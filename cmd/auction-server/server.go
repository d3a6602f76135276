package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/redis/go-redis/v9"

	"github.com/cloudx-io/crossbid/custody"
	"github.com/cloudx-io/crossbid/engine"
	"github.com/cloudx-io/crossbid/events"
	"github.com/cloudx-io/crossbid/journal"
	"github.com/cloudx-io/crossbid/manifest"
	"github.com/cloudx-io/crossbid/oracle"
	"github.com/cloudx-io/crossbid/storage"
)

const maxRequestBytes = 1 << 20

// server answers one JSON request per connection against a single engine. Custody is
// in memory; the demo collaborator requests mint and approve on it.
type server struct {
	cfg         *serverConfig
	log         *slog.Logger
	proxy       *engine.Proxy
	bank        *custody.Bank
	tokens      map[string]*custody.Token
	collections map[string]*custody.Collection
	history     *events.Recorder
	closers     []func() error
}

// buildServer wires the engine and its collaborators from cfg.
func buildServer(ctx context.Context, cfg *serverConfig, log *slog.Logger) (*server, error) {
	s := &server{
		cfg:         cfg,
		log:         log,
		tokens:      make(map[string]*custody.Token),
		collections: make(map[string]*custody.Collection),
		history:     events.NewRecorder(),
	}

	j := journal.New()
	s.bank = custody.NewBank(j, 18)
	dir := &custody.Directory{
		Native: s.bank,
		Tokens: make(map[string]custody.Fungible),
		Assets: make(map[string]custody.NFT),
	}
	for ref, decimals := range cfg.Tokens {
		tok := custody.NewToken(j, ref, decimals)
		s.tokens[ref] = tok
		dir.Tokens[ref] = tok
	}
	for _, ref := range cfg.Collections {
		col := custody.NewCollection(j, ref)
		s.collections[ref] = col
		dir.Assets[ref] = col
	}

	feeds, err := s.buildFeeds()
	if err != nil {
		return nil, err
	}

	engCfg := engine.DefaultConfig()
	engCfg.MaxDuration = cfg.MaxDuration
	engCfg.MaxPriceAge = cfg.MaxPriceAge
	engCfg.EngineAccount = cfg.EngineAccount
	engCfg.Log = log
	if engCfg.Backend, err = s.buildBackend(); err != nil {
		s.Close()
		return nil, err
	}
	if engCfg.Events, err = s.buildEmitter(); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.ManifestKey != "" {
		pemBytes, err := os.ReadFile(cfg.ManifestKey)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("read manifest key: %w", err)
		}
		if engCfg.ManifestKey, err = manifest.ParsePublicKey(pemBytes); err != nil {
			s.Close()
			return nil, err
		}
	}

	proxy, err := engine.Open(ctx, engCfg, engine.Deps{Journal: j, Custody: dir, Feeds: feeds}, engine.V1{})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.proxy = proxy

	if cfg.Owner != "" && proxy.Owner(ctx) == "" {
		if err := proxy.Initialize(ctx, engine.Msg{Sender: cfg.Owner}, cfg.NativeFeed); err != nil {
			s.Close()
			return nil, fmt.Errorf("initialize engine: %w", err)
		}
		log.Info("engine initialized", "owner", cfg.Owner, "native_feed", cfg.NativeFeed)
	}
	log.Info("engine ready",
		"implementation", proxy.Implementation(ctx),
		"schema", proxy.Schema(ctx).String(),
		"auctions", len(proxy.AuctionIDs(ctx)))
	return s, nil
}

func (s *server) buildFeeds() (oracle.Resolver, error) {
	if s.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		s.closers = append(s.closers, client.Close)
		s.log.Info("price feeds from redis", "addr", opts.Addr, "prefix", s.cfg.RedisPrefix)
		return oracle.NewRedisDirectory(client, s.cfg.RedisPrefix), nil
	}

	feeds, err := staticFeeds(s.cfg.StaticFeeds, time.Now)
	if err != nil {
		return nil, err
	}
	s.log.Info("static price feeds", "count", len(s.cfg.StaticFeeds))
	return feeds, nil
}

// staticFeeds builds fixed-rate feeds. They are stamped with now on every read, so
// MAX_PRICE_AGE never rejects them.
func staticFeeds(cfg map[string]staticFeed, now func() time.Time) (*oracle.Directory, error) {
	feeds := make(map[string]oracle.Feed, len(cfg))
	for ref, sf := range cfg {
		price, err := oracle.ParsePrice(sf.Price)
		if err != nil {
			return nil, fmt.Errorf("static feed %s: %w", ref, err)
		}
		feeds[ref] = oracle.NewFixedRateFeed(price, sf.Decimals, now)
	}
	return oracle.NewDirectory(feeds), nil
}

func (s *server) buildBackend() (storage.Backend, error) {
	switch {
	case s.cfg.Postgres != nil:
		pg, err := storage.NewPostgresBackend(s.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		s.log.Info("snapshots in postgres", "host", s.cfg.Postgres.Host, "name", s.cfg.Postgres.Name)
		return pg, nil
	case s.cfg.SnapshotFile != "":
		s.log.Info("snapshots in file", "path", s.cfg.SnapshotFile)
		return storage.NewFileBackend(s.cfg.SnapshotFile), nil
	default:
		s.log.Warn("no snapshot backend configured, state is lost on exit")
		return nil, nil
	}
}

func (s *server) buildEmitter() (events.Emitter, error) {
	sinks := events.Multi{s.history}
	if s.cfg.NATSURL != "" {
		pub, err := events.DialNATS(events.NATSConfig{
			URL:           s.cfg.NATSURL,
			Name:          "auction-server",
			SubjectPrefix: s.cfg.EventPrefix,
			ReconnectWait: 2 * time.Second,
			MaxReconnects: 60,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { pub.Close(); return nil })
		sinks = append(sinks, pub)
		s.log.Info("publishing events to nats", "url", s.cfg.NATSURL)
	}
	if s.cfg.AMQPURL != "" {
		pub, err := events.DialAMQP(s.cfg.AMQPURL, s.cfg.AMQPExchange, s.cfg.EventPrefix)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pub.Close)
		sinks = append(sinks, pub)
		s.log.Info("publishing events to amqp", "exchange", s.cfg.AMQPExchange)
	}
	return sinks, nil
}

// Close releases external connections.
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Error("close failed", "error", err)
		}
	}
	s.closers = nil
}

func (s *server) listen() (net.Listener, error) {
	if s.cfg.ListenMode == listenVsock {
		l, err := vsock.Listen(s.cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		s.log.Info("auction server listening", "mode", listenVsock, "port", s.cfg.VsockPort)
		return l, nil
	}
	l, err := net.Listen("tcp", s.cfg.TCPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp listener: %w", err)
	}
	s.log.Info("auction server listening", "mode", listenTCP, "addr", l.Addr().String())
	return l, nil
}

// Start accepts connections until ctx is done.
func (s *server) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.serve(ctx, listener)
}

func (s *server) serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.log.Error("failed to close listener", "error", err)
		}
	}()

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	s.log.Info("worker pool initialized", "max_workers", s.cfg.MaxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Error("failed to accept connection", "error", err)
			continue
		}

		// Acquire worker slot, rejecting immediately when the pool is full.
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.log.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.Error("failed to close rejected connection", "error", err)
			}
		}
	}
}

func (s *server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in handleConnection", "panic", r)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("failed to close connection", "error", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	var raw json.RawMessage
	if err := json.NewDecoder(io.LimitReader(conn, maxRequestBytes)).Decode(&raw); err != nil {
		s.log.Error("failed to read request", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	resp := s.handle(ctx, raw)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Error("failed to encode response", "request_id", resp.RequestID, "error", err)
	}
}
