package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/migrations"
	"github.com/cppla/aiblog/routes"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/tasks"
	"github.com/cppla/aiblog/utils"
)

const usage = `usage: aiblog [-config file] <command>

commands:
  serve                 run the web server (default)
  worker                consume tasks from nsqd
  migrate               apply pending migrations
  rollback [-steps n]   undo the most recent migrations
  status                list migrations
`

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the JSON config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := utils.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	cmd, args := "serve", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}

	switch cmd {
	case "serve":
		err = serve(cfg, log)
	case "worker":
		err = work(cfg, log)
	case "migrate":
		err = migrate(cfg, log)
	case "rollback":
		fs := flag.NewFlagSet("rollback", flag.ExitOnError)
		steps := fs.Int("steps", 1, "number of migrations to undo")
		_ = fs.Parse(args)
		err = rollback(cfg, log, *steps)
	case "status":
		err = status(cfg, log)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(cmd+" failed", zap.Error(err))
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

// app holds every long lived service; it is built once and passed by reference.
type app struct {
	cfg      config.AppConfig
	log      *zap.Logger
	db       *gorm.DB
	cache    *utils.Cache
	accounts *services.AccountService
	content  *services.ContentService
	follows  *services.FollowService
	events   *services.IdentityEvents
	registry *tasks.Registry
	policy   tasks.RetryPolicy
}

func newApp(cfg config.AppConfig, log *zap.Logger) (*app, error) {
	db, err := config.OpenDatabase(cfg, log)
	if err != nil {
		return nil, err
	}
	rc := utils.NewRedis(cfg)
	if rc == nil {
		log.Warn("redis unavailable, using in-memory cache")
	}
	cache := utils.NewCache(rc, log)
	tokens := services.NewTokenService(cfg.SecretKey)

	a := &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		cache: cache,
		accounts: services.NewAccountService(db, tokens, cache, log, services.AccountOptions{
			AdminUsernames: cfg.AdminUsernames,
			ConfirmTTL:     time.Duration(cfg.ConfirmTokenTTLSec) * time.Second,
			AuthTTL:        time.Duration(cfg.AuthTokenTTLSec) * time.Second,
			AuthCacheTTL:   time.Duration(cfg.AuthTokenCacheSec) * time.Second,
		}),
		content: services.NewContentService(db, cache, log, services.ContentOptions{
			TopPosts: cfg.TopPostsNum,
			TopTags:  cfg.TopTagsNum,
		}),
		follows:  services.NewFollowService(db),
		events:   services.NewIdentityEvents(),
		registry: tasks.NewRegistry(),
		policy: tasks.RetryPolicy{
			MaxRetries: cfg.TaskMaxRetries,
			RetryDelay: time.Duration(cfg.TaskRetryDelaySec) * time.Second,
		},
	}
	return a, nil
}

// registerHandlers installs the task handlers; enq receives tasks they spawn.
func (a *app) registerHandlers(enq tasks.Enqueuer) {
	tasks.RegisterHandlers(a.registry, tasks.HandlerDeps{
		Mailer:           utils.NewMailer(a.cfg),
		Tasks:            enq,
		Content:          a.content,
		DigestRecipients: a.cfg.DigestRecipients,
		SiteURL:          a.cfg.ExternalURL,
		Log:              a.log.Named("tasks"),
	})
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func serve(cfg config.AppConfig, log *zap.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	var (
		enq  tasks.Enqueuer
		stop func()
	)
	if cfg.NSQDAddr != "" {
		d, err := tasks.NewNSQDispatcher(cfg.NSQDAddr, cfg.TaskTopic, log)
		if err != nil {
			return err
		}
		enq, stop = d, d.Stop
	} else {
		d := tasks.NewLocalDispatcher(a.registry, a.policy, log)
		enq, stop = d, d.Wait
	}
	a.registerHandlers(enq)

	a.events.Subscribe(services.LastSeenObserver(a.accounts))
	a.events.Subscribe(tasks.AuditObserver(enq, log))

	ctx, cancel := context.WithCancel(context.Background())
	if cfg.DigestEnabled {
		sched, err := tasks.NewDigestScheduler(enq, log)
		if err != nil {
			cancel()
			return err
		}
		go sched.Run(ctx)
	}

	r := routes.SetupRouter(routes.Deps{
		Config:   cfg,
		Log:      log,
		Cache:    a.cache,
		Accounts: a.accounts,
		Content:  a.content,
		Follows:  a.follows,
		Events:   a.events,
		Tasks:    enq,
	})

	srv := utils.NewServer(":"+cfg.AppPort, r, log)
	srv.OnShutdown(cancel)
	srv.OnShutdown(stop)
	log.Info("starting server", zap.String("port", cfg.AppPort))
	return srv.ListenAndServe()
}

func work(cfg config.AppConfig, log *zap.Logger) error {
	if cfg.NSQDAddr == "" && cfg.NSQLookupdAddr == "" {
		return fmt.Errorf("worker needs NSQD_ADDR or NSQLOOKUPD_ADDR")
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	// spawned tasks go back to nsqd when it is reachable, else run here
	if cfg.NSQDAddr != "" {
		p, err := tasks.NewNSQDispatcher(cfg.NSQDAddr, cfg.TaskTopic, log)
		if err != nil {
			return err
		}
		defer p.Stop()
		a.registerHandlers(p)
	} else {
		local := tasks.NewLocalDispatcher(a.registry, a.policy, log)
		defer local.Wait()
		a.registerHandlers(local)
	}

	w, err := tasks.NewWorker(a.registry, a.policy, cfg.TaskTopic, cfg.TaskChannel, log)
	if err != nil {
		return err
	}
	if err := w.Start(cfg.NSQDAddr, cfg.NSQLookupdAddr); err != nil {
		return err
	}
	log.Info("worker started", zap.String("topic", cfg.TaskTopic), zap.String("channel", cfg.TaskChannel))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	w.Stop()
	return nil
}

func openMigrator(cfg config.AppConfig, log *zap.Logger) (*migrations.Migrator, func(), error) {
	db, err := config.OpenDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return migrations.New(db, log), closeDB, nil
}

func migrate(cfg config.AppConfig, log *zap.Logger) error {
	m, done, err := openMigrator(cfg, log)
	if err != nil {
		return err
	}
	defer done()
	applied, err := m.Up(context.Background())
	if err != nil {
		return err
	}
	log.Info("migrations applied", zap.Strings("ids", applied))
	return nil
}

func rollback(cfg config.AppConfig, log *zap.Logger, steps int) error {
	m, done, err := openMigrator(cfg, log)
	if err != nil {
		return err
	}
	defer done()
	reverted, err := m.Down(context.Background(), steps)
	if err != nil {
		return err
	}
	log.Info("migrations rolled back", zap.Strings("ids", reverted))
	return nil
}

func status(cfg config.AppConfig, log *zap.Logger) error {
	m, done, err := openMigrator(cfg, log)
	if err != nil {
		return err
	}
	defer done()
	list, err := m.Status(context.Background())
	if err != nil {
		return err
	}
	for _, s := range list {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Printf("%-24s %s\n", s.ID, state)
	}
	return nil
}
