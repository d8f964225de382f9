package dao

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
	"github.com/connext/indra-sub007/util"
)

// Requires a MySQL instance the test may migrate, e.g.
//
//	HUB_TEST_MYSQL_DSN='root:123456@tcp(127.0.0.1:3306)/hub_ledger_test' go test ./dao/...
func testDB(t *testing.T) *gorm.DB {
	dsn := os.Getenv("HUB_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("HUB_TEST_MYSQL_DSN not set")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.ChannelState{},
		&model.ChannelUpdate{},
		&model.ThreadState{},
		&model.OnchainTransaction{},
	))
	return db
}

func TestEnsureChannel(t *testing.T) {
	db := testDB(t)
	d := NewDao(db, nil)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := d.LockChannel(tx, user)
		require.NoError(t, err)
		assert.Nil(t, cs)

		cs, err = d.EnsureChannel(tx, user, "0xcc01")
		require.NoError(t, err)
		require.NotNil(t, cs)
		assert.Equal(t, model.ChannelStatusOpen, cs.Status)
		assert.Equal(t, uint64(0), cs.TxCountGlobal)

		// idempotent for an existing row
		again, err := d.EnsureChannel(tx, user, "0xcc01")
		require.NoError(t, err)
		assert.Equal(t, cs.User, again.User)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSavepointRollsBackInnerOnly(t *testing.T) {
	db := testDB(t)
	d := NewDao(db, nil)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		if _, err := d.EnsureChannel(tx, user, "0xcc01"); err != nil {
			return err
		}

		inner := WithSavepoint(tx, func(tx *gorm.DB) error {
			if err := d.InsertUpdate(tx, &model.ChannelUpdate{
				User:          user,
				Reason:        string(common.ReasonPayment),
				Args:          "{}",
				TxCountGlobal: 1,
				State:         "{}",
			}); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, inner, assert.AnError)

		// the inner write is gone, the outer scope continues
		cu, err := d.LatestUpdate(tx, user)
		require.NoError(t, err)
		assert.Nil(t, cu)
		return nil
	})
	require.NoError(t, err)

	cs, err := d.GetChannel(db.WithContext(ctx), user)
	require.NoError(t, err)
	assert.NotNil(t, cs)
}

func TestMarkInvalidRange(t *testing.T) {
	db := testDB(t)
	d := NewDao(db, nil)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		for i := uint64(1); i <= 4; i++ {
			require.NoError(t, d.InsertUpdate(tx, &model.ChannelUpdate{
				User:          user,
				Reason:        string(common.ReasonPayment),
				Args:          "{}",
				TxCountGlobal: i,
				State:         "{}",
			}))
		}

		require.NoError(t, d.MarkInvalid(tx, user, 2, 4, string(common.InvalidationTxFailed)))

		latest, err := d.LatestUpdate(tx, user)
		require.NoError(t, err)
		require.NotNil(t, latest)
		// invalidated rows still hold the counter high-water mark
		assert.Equal(t, uint64(4), latest.TxCountGlobal)
		require.NotNil(t, latest.Invalid)
		assert.Equal(t, string(common.InvalidationTxFailed), *latest.Invalid)

		kept, err := d.UpdateByTxCount(tx, user, 2)
		require.NoError(t, err)
		require.NotNil(t, kept)
		assert.Nil(t, kept.Invalid)
		return nil
	})
	require.NoError(t, err)
}

func TestPendingFailedUpdates(t *testing.T) {
	db := testDB(t)
	d := NewDao(db, nil)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		otx := &model.OnchainTransaction{
			From:  "0xhub",
			To:    "0xcc01",
			State: model.OnchainTxStateFailed,
		}
		require.NoError(t, d.InsertOnchainTx(tx, otx))

		require.NoError(t, d.InsertUpdate(tx, &model.ChannelUpdate{
			User:             user,
			Reason:           string(common.ReasonProposePendingDeposit),
			Args:             "{}",
			TxCountGlobal:    1,
			State:            "{}",
			OnchainLogicalID: &otx.LogicalID,
		}))

		list, err := d.PendingFailedUpdates(tx)
		require.NoError(t, err)

		found := false
		for i := range list {
			if list[i].User == user {
				found = true
			}
		}
		assert.True(t, found)

		// once invalidated it drops out of the reconcile scan
		require.NoError(t, d.MarkInvalid(tx, user, 0, 1, string(common.InvalidationTxFailed)))
		list, err = d.PendingFailedUpdates(tx)
		require.NoError(t, err)
		for i := range list {
			assert.NotEqual(t, user, list[i].User)
		}
		return nil
	})
	require.NoError(t, err)
}
