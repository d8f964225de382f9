package initdb

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/model"
)

var log = logging.Logger("initdb")

func InitDatabase(ctx context.Context, db *gorm.DB, contractAddress, hubAddress string, disputePeriod int64) error {

	if checkExist(db) {
		return xerrors.New("database has been initialized")
	}

	if err := createTables(db); err != nil {
		return err
	}

	if err := fillTables(db, contractAddress, hubAddress, disputePeriod); err != nil {
		return err
	}

	return nil
}

func checkExist(db *gorm.DB) bool {
	return db.Migrator().HasTable(&model.HubConfig{})
}

func createTables(db *gorm.DB) error {

	startTime := time.Now()
	defer func() {
		log.Infow("createTables", "duration", time.Since(startTime).String())
	}()

	return db.Debug().AutoMigrate(
		// 1. channel ledger
		&model.ChannelState{},
		&model.ChannelUpdate{},
		&model.ThreadState{},
		&model.Payment{},

		// 2. chain side
		&model.OnchainTransaction{},
		&model.NonceState{},
		&model.ChannelDispute{},

		// 3. other
		&model.HubConfig{},
	)
}

func fillTables(db *gorm.DB, contractAddress, hubAddress string, disputePeriod int64) error {

	if contractAddress == "" || hubAddress == "" {
		return xerrors.New("contract and hub addresses are required")
	}
	if disputePeriod <= 0 {
		return xerrors.New("dispute period should be > 0")
	}

	cfg := model.HubConfig{
		ContractAddress: contractAddress,
		HubAddress:      hubAddress,
		DisputePeriod:   disputePeriod,
	}
	return db.Create(&cfg).Error
}
