package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grubs-service/config"
	"grubs-service/handlers"
	"grubs-service/lease"
	"grubs-service/logger"
	"grubs-service/metrics"
	"grubs-service/models"
	"grubs-service/queue"
	"grubs-service/repository"
	"grubs-service/services"
	"grubs-service/utils"
	"grubs-service/workers"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	once := pflag.Bool("once", false, "run a single tick and exit")
	memory := pflag.Bool("memory", false, "use the in-memory store with demo data instead of Postgres")
	addr := pflag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	pflag.Parse()

	cfg, err := config.Load(*memory)
	if err != nil {
		// No logger yet; config errors go straight to stderr.
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	log, err := logger.New(cfg.LogLevel, zap.String("service", "grubs-service"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	os.Exit(exitCode(log, run(cfg, *once, *memory, log)))
}

// exitCode logs a fatal run error and flushes the logger before the process exits,
// since os.Exit skips deferred calls.
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("exiting", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, once, memory bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := metrics.InitProvider()
	if err != nil {
		return err
	}
	defer shutdownMetrics(context.Background())

	var store repository.Store
	if memory {
		mem := repository.NewMemoryStore(cfg.LedgerLockTimeout)
		seedDemo(mem)
		store = mem
		log.Info("using in-memory store with demo data")
	} else {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return err
		}
		gs := repository.NewGormStore(db, cfg.LedgerLockTimeout)
		if err := gs.Migrate(); err != nil {
			return err
		}
		store = gs
	}

	var locker lease.Locker = lease.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rl := lease.NewRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rl.Ping(ctx); err != nil {
			return err
		}
		defer rl.Close()
		locker = rl
		log.Info("tick lease backed by redis", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher queue.TransactionPublisher = queue.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = queue.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		log.Info("publishing transactions to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	ledger := services.NewLedgerService(store, publisher, log)
	events := services.NewEventService(store, ledger, cfg.TickInterval, cfg.TickWorkers, log)
	encounters := services.NewEncounterEngine(store, ledger, services.EncounterConfig{
		RadiusMeters: cfg.Encounter.RadiusMeters,
		Dwell:        cfg.Encounter.Dwell,
		Cooldown:     cfg.Encounter.Cooldown,
		Reward:       cfg.Encounter.Reward,
		MaxGap:       cfg.Encounter.MaxGap,
	}, log)
	ambient := services.NewAmbientTick(store, ledger, services.AmbientConfig{
		RadiusMeters: cfg.Ambient.RadiusMeters,
		HourlyRate:   cfg.Ambient.HourlyRate,
		TickInterval: cfg.TickInterval,
		ActiveWindow: cfg.ActiveWindow,
	}, log)
	driver := services.NewTickDriver(store, events, encounters, ambient, cfg.Scheme, cfg.ActiveWindow, locker, log)

	if once {
		res, err := driver.RunTick(ctx, time.Now())
		if err != nil {
			return err
		}
		log.Info("single tick finished", zap.Int("errors", len(res.Errors)))
		return nil
	}

	var archiver services.DayArchiver
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket)
		if err != nil {
			return err
		}
		archiver = workers.NewLedgerArchiver(store, r2, log)
	}

	sched := services.NewScheduler(driver, encounters, archiver, cfg.TickInterval, cfg.Encounter.Retention, log)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Shutdown()

	workers.NewLedgerAuditWorker(store, cfg.AuditInterval, log).Start(ctx)

	app := handlers.NewApp(handlers.Deps{
		Positions:    services.NewPositionService(store, cfg.Scheme, cfg.ActiveWindow, log),
		Events:       events,
		Ledger:       ledger,
		Stats:        services.NewStatsService(store, cfg.ActiveWindow),
		Driver:       driver,
		Health:       store,
		WalletAPIKey: cfg.WalletAPIKey,
		CronSecret:   cfg.CronSecret,
		CronTimeout:  sched.JobTimeout,
		Now:          time.Now,
		Log:          log,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()
	log.Info("server running",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("scheme", string(cfg.Scheme)),
		zap.Duration("tick_interval", cfg.TickInterval))

	<-ctx.Done()
	log.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

// seedDemo fills an empty memory store with one group and three members.
func seedDemo(s *repository.MemoryStore) {
	g := s.AddGroup(&models.Group{Name: "Cookie Club"})
	owner := s.AddUser(&models.User{Name: "Avery", Email: "avery@example.com"})
	s.AddMembership(g.ID, owner.ID, models.RoleOwner)
	for _, name := range []string{"Blake", "Casey"} {
		u := s.AddUser(&models.User{Name: name})
		s.AddMembership(g.ID, u.ID, models.RoleMember)
	}
}
