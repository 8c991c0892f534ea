// Package wire provides dependency injection for the ecs-manage application.
// It creates singleton services with lazy initialization.
package wire

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	cliadapter "github.com/example/ecs-manage/internal/adapters/cli"
	"github.com/example/ecs-manage/internal/adapters/ecs"
	"github.com/example/ecs-manage/internal/adapters/metrics"
	"github.com/example/ecs-manage/internal/adapters/notify"
	redislock "github.com/example/ecs-manage/internal/adapters/redis"
	"github.com/example/ecs-manage/internal/adapters/sqlite"
	"github.com/example/ecs-manage/internal/app"
	"github.com/example/ecs-manage/internal/config"
	"github.com/example/ecs-manage/internal/db"
	"github.com/example/ecs-manage/internal/ports/primary"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// Options carries the global command-line settings. Flags override the
// configuration file.
type Options struct {
	ConfigPath string
	Profile    string
	Region     string
	Logger     *logrus.Logger
}

var (
	opts Options
	cfg  *config.Config

	database *sql.DB
	platform secondary.Platform

	reconcileService primary.ReconcileService
	inspectorService primary.InspectorService
	historyService   primary.HistoryService

	configOnce   sync.Once
	storeOnce    sync.Once
	platformOnce sync.Once
)

// Init records the global options. It must be called before any service
// accessor, typically from the root command's PersistentPreRunE.
func Init(o Options) {
	opts = o
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
}

// Config returns the loaded configuration.
func Config() *config.Config {
	configOnce.Do(initConfig)
	return cfg
}

// ReconcileService returns the singleton ReconcileService instance.
func ReconcileService() primary.ReconcileService {
	platformOnce.Do(initServices)
	return reconcileService
}

// InspectorService returns the singleton InspectorService instance.
func InspectorService() primary.InspectorService {
	platformOnce.Do(initServices)
	return inspectorService
}

// HistoryService returns the singleton HistoryService instance. It needs
// only the local database, not AWS credentials.
func HistoryService() primary.HistoryService {
	storeOnce.Do(initStore)
	return historyService
}

func initConfig() {
	c, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		opts.Logger.WithError(err).Fatal("failed to load configuration")
	}
	if opts.Profile != "" {
		c.AWS.Profile = opts.Profile
	}
	if opts.Region != "" {
		c.AWS.Region = opts.Region
	}
	cfg = c
}

// initStore opens the local database holding history and local locks.
func initStore() {
	c := Config()
	path := c.History.Path
	if path == "" {
		p, err := db.DefaultPath()
		if err != nil {
			opts.Logger.WithError(err).Fatal("failed to resolve database path")
		}
		path = p
	}

	d, err := db.Open(path)
	if err != nil {
		opts.Logger.WithError(err).Fatal("failed to initialize database")
	}
	database = d
	historyService = app.NewHistoryService(sqlite.NewHistoryRepository(database))
}

// initServices initializes the platform-facing services and their
// dependencies. This is called once via sync.Once.
func initServices() {
	storeOnce.Do(initStore)
	c := Config()
	log := opts.Logger
	clk := clock.NewClock()
	ctx := context.Background()

	awsCfg, err := ecs.LoadConfig(ctx, ecs.Options{
		Region:  c.AWS.Region,
		Profile: c.AWS.Profile,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create ECS client")
	}
	regions := ecs.NewRegions(awsCfg, c.AWS.RequestsPerSecond)
	platform = regions.Region("")

	var locker secondary.ServiceLocker
	switch c.Lock.Backend {
	case config.LockBackendRedis:
		l, err := redislock.NewLocker(ctx, redislock.Options{
			Addr:     c.Lock.Redis.Addr,
			Password: c.Lock.Redis.Password,
			DB:       c.Lock.Redis.DB,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to initialize service lock")
		}
		locker = l
	default:
		locker = sqlite.NewLockRepository(database, clk)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if c.Notify.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(c.Notify.Telegram.Token, c.Notify.Telegram.ChatID)
		if err != nil {
			log.WithError(err).Warn("telegram notifications disabled")
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	var publisher secondary.MetricsPublisher = metrics.Noop{}
	if c.Metrics.Pushgateway.URL != "" {
		publisher = metrics.NewPushgateway(c.Metrics.Pushgateway.URL, c.Metrics.Pushgateway.Job, &http.Client{Timeout: 10 * time.Second})
	}

	reconcileService = app.NewReconcileService(
		platform,
		sqlite.NewHistoryRepository(database),
		locker,
		notifiers,
		publisher,
		c.Engine(),
		clk,
		log,
	)
	inspectorService = app.NewInspectorService(
		regions,
		ecs.NewImageRegistry(awsCfg, c.AWS.RequestsPerSecond),
		ecs.NewTargetGroups(awsCfg, c.AWS.RequestsPerSecond),
		reconcileService,
		c.RetryPolicy(),
		app.DefaultInspectParallelism,
		clk,
		log,
	)
}

// ReconcileAdapter returns a new ReconcileAdapter writing to stdout.
func ReconcileAdapter() *cliadapter.ReconcileAdapter {
	return ReconcileAdapterWithOutput(os.Stdout)
}

// ReconcileAdapterWithOutput returns a new ReconcileAdapter writing to the given output.
func ReconcileAdapterWithOutput(out io.Writer) *cliadapter.ReconcileAdapter {
	return cliadapter.NewReconcileAdapter(ReconcileService(), out)
}

// InspectorAdapter returns a new InspectorAdapter writing to stdout.
func InspectorAdapter() *cliadapter.InspectorAdapter {
	return InspectorAdapterWithOutput(os.Stdout)
}

// InspectorAdapterWithOutput returns a new InspectorAdapter writing to the given output.
func InspectorAdapterWithOutput(out io.Writer) *cliadapter.InspectorAdapter {
	return cliadapter.NewInspectorAdapter(InspectorService(), out)
}

// HistoryAdapter returns a new HistoryAdapter writing to stdout.
func HistoryAdapter() *cliadapter.HistoryAdapter {
	return cliadapter.NewHistoryAdapter(HistoryService(), os.Stdout)
}
