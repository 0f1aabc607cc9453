// shard/open.go
package shard

import (
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector picks the GORM driver for a DSN. postgres is the production
// driver; sqlite is for demo deployments and tests.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenDB opens a single database with the ledger's GORM settings.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// SQLite compares timestamps as text, so every auto time must be
		// written in the same zone as the explicit ones.
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// SQLite has no row locks; one connection serialises writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Open connects to every shard DSN in order. Index i of the result is
// shard i, so the DSN order is part of the deployment's identity.
func Open(driver string, dsns []string) ([]*gorm.DB, error) {
	dbs := make([]*gorm.DB, 0, len(dsns))
	for i, dsn := range dsns {
		db, err := OpenDB(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to shard %d: %w", i, err)
		}
		dbs = append(dbs, db)
		log.Printf("✅ [SHARD] Connected shard %d (%s)", i, driver)
	}
	return dbs, nil
}
