package dao

import (
	"errors"

	"github.com/connext/indra-sub007/model"
	"gorm.io/gorm"
)

func (d *Dao) InsertUpdate(tx *gorm.DB, cu *model.ChannelUpdate) error {
	return tx.Create(cu).Error
}

func (d *Dao) SaveUpdate(tx *gorm.DB, cu *model.ChannelUpdate) error {
	return tx.Save(cu).Error
}

// LatestUpdate returns the user's update with the highest txCountGlobal,
// invalidated rows included (they still consumed their counter value).
func (d *Dao) LatestUpdate(tx *gorm.DB, user string) (*model.ChannelUpdate, error) {
	var cu model.ChannelUpdate
	err := tx.Where("user = ?", user).
		Order("tx_count_global DESC").
		Take(&cu).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cu, nil
}

func (d *Dao) UpdateByTxCount(tx *gorm.DB, user string, txCount uint64) (*model.ChannelUpdate, error) {
	var cu model.ChannelUpdate
	err := tx.Where("user = ? AND tx_count_global = ?", user, txCount).Take(&cu).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cu, nil
}

// UpdatesAfter returns all of a user's updates with txCountGlobal > after,
// in counter order. Feeds the sync protocol.
func (d *Dao) UpdatesAfter(tx *gorm.DB, user string, after uint64) ([]model.ChannelUpdate, error) {
	var list []model.ChannelUpdate
	err := tx.Where("user = ? AND tx_count_global > ?", user, after).
		Order("tx_count_global ASC").
		Find(&list).Error
	return list, err
}

// MarkInvalid flags the half-open range (prev, last] with the given reason.
// Rows are never deleted.
func (d *Dao) MarkInvalid(tx *gorm.DB, user string, prev, last uint64, reason string) error {
	return tx.Model(&model.ChannelUpdate{}).
		Where("user = ? AND tx_count_global > ? AND tx_count_global <= ?", user, prev, last).
		Update("invalid", reason).Error
}

// UpdatesReferencing returns the not-yet-invalidated updates waiting on a
// logical on-chain transaction.
func (d *Dao) UpdatesReferencing(tx *gorm.DB, logicalID uint64) ([]model.ChannelUpdate, error) {
	var list []model.ChannelUpdate
	err := tx.Where("onchain_logical_id = ? AND invalid IS NULL", logicalID).
		Order("tx_count_global ASC").
		Find(&list).Error
	return list, err
}

// PendingFailedUpdates returns valid updates whose logical transaction
// already failed; the ledger reconciler turns them into invalidations once
// their timeout elapses.
func (d *Dao) PendingFailedUpdates(tx *gorm.DB) ([]model.ChannelUpdate, error) {
	var list []model.ChannelUpdate
	err := tx.
		Where("invalid IS NULL AND onchain_logical_id IN (?)",
			tx.Session(&gorm.Session{NewDB: true}).
				Model(&model.OnchainTransaction{}).
				Select("logical_id").
				Where("state = ?", model.OnchainTxStateFailed)).
		Order("id ASC").
		Find(&list).Error
	return list, err
}
