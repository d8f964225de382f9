package dao

import (
	"errors"

	"github.com/connext/indra-sub007/model"
	"gorm.io/gorm"
)

func (d *Dao) InsertDispute(tx *gorm.DB, cd *model.ChannelDispute) error {
	return tx.Create(cd).Error
}

func (d *Dao) SaveDispute(tx *gorm.DB, cd *model.ChannelDispute) error {
	return tx.Save(cd).Error
}

func (d *Dao) PendingDisputeForUser(tx *gorm.DB, user string) (*model.ChannelDispute, error) {
	var cd model.ChannelDispute
	err := tx.Where("user = ? AND status = ?", user, model.DisputeStatusPending).
		Take(&cd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cd, nil
}

func (d *Dao) PendingDisputes(tx *gorm.DB) ([]model.ChannelDispute, error) {
	var list []model.ChannelDispute
	err := tx.Where("status = ?", model.DisputeStatusPending).
		Order("id ASC").
		Find(&list).Error
	return list, err
}
