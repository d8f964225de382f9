package dao

import (
	"context"

	"github.com/go-redis/redis/v8"
	logging "github.com/ipfs/go-log/v2"
	"gorm.io/gorm"
)

var log = logging.Logger("dao")

// Dao bundles the transactional store and the ephemeral staging store. The
// gorm handle for the current transaction scope is passed explicitly through
// every call so nested service calls share one transaction without any
// ambient global.
type Dao struct {
	db  *gorm.DB
	rds *redis.Client
}

func NewDao(db *gorm.DB, rds *redis.Client) *Dao {
	return &Dao{
		db:  db,
		rds: rds,
	}
}

func (d *Dao) DB() *gorm.DB {
	return d.db
}

// RunInTx opens a top-level transaction. Callers pass the received handle
// down; inner calls that must be able to fail independently wrap themselves
// in WithSavepoint.
func (d *Dao) RunInTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.db.WithContext(ctx).Transaction(fn)
}

// WithSavepoint runs fn in a savepoint scope of tx: an inner failure rolls
// back only fn's writes. gorm issues SAVEPOINT/ROLLBACK TO for nested
// Transaction calls.
func WithSavepoint(tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	return tx.Transaction(fn)
}
