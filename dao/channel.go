package dao

import (
	"errors"

	"github.com/connext/indra-sub007/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockChannel loads the user's channel row under SELECT ... FOR UPDATE,
// serializing all ledger mutations for that user until the enclosing
// transaction ends. Returns common-style nil when no row exists.
func (d *Dao) LockChannel(tx *gorm.DB, user string) (*model.ChannelState, error) {
	var cs model.ChannelState
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user = ?", user).
		Take(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// EnsureChannel creates a zero channel row for a user that has none, then
// locks it. New users reach this on their first deposit request.
func (d *Dao) EnsureChannel(tx *gorm.DB, user, contract string) (*model.ChannelState, error) {
	cs, err := d.LockChannel(tx, user)
	if err != nil {
		return nil, err
	}
	if cs != nil {
		return cs, nil
	}

	row := model.NewChannelState(user, contract)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return nil, err
	}
	return d.LockChannel(tx, user)
}

func (d *Dao) GetChannel(tx *gorm.DB, user string) (*model.ChannelState, error) {
	var cs model.ChannelState
	err := tx.Where("user = ?", user).Take(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (d *Dao) SaveChannel(tx *gorm.DB, cs *model.ChannelState) error {
	return tx.Save(cs).Error
}

func (d *Dao) SetChannelStatus(tx *gorm.DB, user string, status model.ChannelStatus) error {
	return tx.Model(&model.ChannelState{}).
		Where("user = ?", user).
		Update("status", status).Error
}
