package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/infrastructure"
	"merchpulse.io/pulse/internal/pkg/worker"
	"merchpulse.io/pulse/internal/progress"
	"merchpulse.io/pulse/internal/repository"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Redis       *infrastructure.RedisClients
	Pools       *worker.Pools
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]

	Dispatcher  *domain.EventDispatcher
	Progress    *progress.Store
	Broadcaster *progress.Broadcaster

	Customers *repository.CustomerRepository
	Orders    *repository.OrderRepository
	Segments  *repository.SegmentRepository
	SyncJobs  *repository.SyncJobRepository
	Webhooks  *repository.WebhookRepository
}

// NewInfrastructure initializes the shared stores, pools, and repositories.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// Dev-mode: auto-apply the schema plus River queue tables.
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	redisClients, err := infrastructure.NewRedisClients(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:   cfg.Worker.GeneralPoolSize,
		BroadcastPoolSize: cfg.Worker.BroadcastPoolSize,
	})
	if err != nil {
		redisClients.Close()
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	progressStore := progress.NewStore(redisClients.Client, cfg.Progress)

	return &Infrastructure{
		Config:      cfg,
		DB:          db,
		Redis:       redisClients,
		Pools:       pools,
		Pool:        db.Pool,
		Dispatcher:  domain.NewEventDispatcher(),
		Progress:    progressStore,
		Broadcaster: progress.NewBroadcaster(redisClients.Client, pools, cfg.Progress.SubscriberBuffer),
		Customers:   repository.NewCustomerRepository(db.Pool),
		Orders:      repository.NewOrderRepository(db.Pool),
		Segments:    repository.NewSegmentRepository(db.Pool),
		SyncJobs:    repository.NewSyncJobRepository(db.Pool),
		Webhooks:    repository.NewWebhookRepository(db.Pool),
	}, nil
}

// InitRiver initializes the River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, i.Config.River, periodic); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	return nil
}

// Close releases infrastructure resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Redis != nil {
		i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
