package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/taskmanager/internal/config"
	"github.com/hitoshi/taskmanager/internal/database"
	"github.com/hitoshi/taskmanager/internal/repository"
	"github.com/hitoshi/taskmanager/internal/repository/memory"
)

// openStore はDATABASE_DRIVERに応じたリポジトリ一式を開く。
// 呼び出し側は終了時にStore.Closeを呼ぶ。
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.DatabaseTimeout)
	defer cancel()

	switch cfg.DatabaseDriver {
	case config.DriverMongo:
		return openMongoStore(ctx, cfg)
	case config.DriverPostgres:
		return openPostgresStore(ctx, cfg)
	case config.DriverMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore().Repositories(), nil
	default:
		return repository.Store{}, fmt.Errorf("unsupported database driver: %q", cfg.DatabaseDriver)
	}
}

func openMongoStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	client, err := database.ConnectMongo(ctx, cfg.MongoURI, database.DefaultPoolConfig())
	if err != nil {
		return repository.Store{}, err
	}

	db := client.Database(cfg.MongoDatabase)
	if err := database.EnsureMongoIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return repository.Store{}, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	slog.Info("mongodb connection established", slog.String("database", cfg.MongoDatabase))

	users := repository.NewMongoUserRepo(db)
	return repository.Store{
		Users:    users,
		Tasks:    repository.NewMongoTaskRepo(db),
		Accounts: users,
		Health:   users,
		Close:    client.Disconnect,
	}, nil
}

func openPostgresStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return repository.Store{}, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return repository.Store{}, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	users := repository.NewPostgresUserRepo(db)
	return repository.Store{
		Users:    users,
		Tasks:    repository.NewPostgresTaskRepo(db),
		Accounts: users,
		Health:   users,
		Close:    func(context.Context) error { return db.Close() },
	}, nil
}
