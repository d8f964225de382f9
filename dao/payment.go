package dao

import (
	"time"

	"github.com/connext/indra-sub007/model"
	"gorm.io/gorm"
)

func (d *Dao) InsertPayment(tx *gorm.DB, p *model.Payment) error {
	return tx.Create(p).Error
}

// CountRecentTippers counts distinct senders that paid a recipient since the
// cutoff. Drives the collateralization target.
func (d *Dao) CountRecentTippers(tx *gorm.DB, recipient string, since time.Time) (int64, error) {
	var count int64
	err := tx.Model(&model.Payment{}).
		Where("recipient = ? AND created_at > ?", recipient, since).
		Distinct("sender").
		Count(&count).Error
	return count, err
}
