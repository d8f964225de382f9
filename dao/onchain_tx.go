package dao

import (
	"errors"

	"github.com/connext/indra-sub007/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (d *Dao) InsertOnchainTx(tx *gorm.DB, otx *model.OnchainTransaction) error {
	return tx.Create(otx).Error
}

func (d *Dao) SaveOnchainTx(tx *gorm.DB, otx *model.OnchainTransaction) error {
	return tx.Save(otx).Error
}

func (d *Dao) GetOnchainTx(tx *gorm.DB, logicalID uint64) (*model.OnchainTransaction, error) {
	var otx model.OnchainTransaction
	err := tx.Where("logical_id = ?", logicalID).Take(&otx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &otx, nil
}

// NonTerminalTxs returns the rows the poll loop must inspect, oldest first.
func (d *Dao) NonTerminalTxs(tx *gorm.DB) ([]model.OnchainTransaction, error) {
	var list []model.OnchainTransaction
	err := tx.Where("state IN ?", []model.OnchainTxState{
		model.OnchainTxStateNew, model.OnchainTxStateSubmitted,
	}).Order("logical_id ASC").Find(&list).Error
	return list, err
}

// MaxAllocatedNonce returns the highest nonce of any non-failed transaction
// from an address, so a new logical transaction never reuses a live nonce.
// The read is locking, so it sees rows committed after the caller's snapshot
// was taken.
func (d *Dao) MaxAllocatedNonce(tx *gorm.DB, from string) (uint64, bool, error) {
	var row struct {
		Nonce uint64
	}
	err := tx.Model(&model.OnchainTransaction{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("nonce").
		Where("from_address = ? AND state != ?", from, model.OnchainTxStateFailed).
		Order("nonce DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Nonce, true, nil
}

// AllocateNonce reserves the next nonce for an address. The per-address
// nonce_state row is taken FOR UPDATE first and held to commit, so
// concurrent allocators serialize; the winner's inserted transaction row is
// visible to the next allocator through the locking reads. Failed rows are
// skipped so their nonce stays reusable.
func (d *Dao) AllocateNonce(tx *gorm.DB, from string, chainNonce uint64) (uint64, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.NonceState{Address: from, Nonce: chainNonce}).Error; err != nil {
		return 0, err
	}
	var ns model.NonceState
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", from).
		Take(&ns).Error; err != nil {
		return 0, err
	}

	nonce := chainNonce
	localNonce, ok, err := d.MaxAllocatedNonce(tx, from)
	if err != nil {
		return 0, err
	}
	if ok && localNonce+1 > nonce {
		nonce = localNonce + 1
	}

	ns.Nonce = nonce
	return nonce, tx.Save(&ns).Error
}
