package dao

import (
	"errors"

	"gorm.io/gorm"

	"github.com/connext/indra-sub007/model"
)

// GetHubConfig reads the singleton config row written by initdb.
func (d *Dao) GetHubConfig(tx *gorm.DB) (*model.HubConfig, error) {
	var cfg model.HubConfig
	if err := tx.First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}
