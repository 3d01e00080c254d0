package database

import (
	"fmt"
	"sync"

	"github.com/synaptica-ai/curator/pkg/common/config"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	dbErr  error
	dbOnce sync.Once
)

// GetPostgres opens the mapping store once. A failed open is remembered and
// returned to every later caller.
func GetPostgres() (*gorm.DB, error) {
	dbOnce.Do(func() {
		cfg := config.Load()
		fields := map[string]interface{}{
			"host":     cfg.PostgresHost,
			"database": cfg.PostgresDB,
		}

		conn, err := gorm.Open(postgres.Open(postgresDSN(cfg)), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			logger.Log.WithError(err).WithFields(fields).Error("Failed to connect to mapping store")
			dbErr = fmt.Errorf("failed to connect to postgres: %w", err)
			return
		}

		sqlDB, err := conn.DB()
		if err != nil {
			dbErr = err
			return
		}
		sqlDB.SetMaxOpenConns(cfg.PostgresMaxOpen)
		sqlDB.SetMaxIdleConns(cfg.PostgresMaxIdle)
		sqlDB.SetConnMaxLifetime(cfg.PostgresConnLife)

		db = conn
		fields["max_open_conns"] = cfg.PostgresMaxOpen
		logger.Log.WithFields(fields).Info("Connected to mapping store")
	})

	return db, dbErr
}

func postgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s application_name=curator",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
	)
}

func ClosePostgres() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
