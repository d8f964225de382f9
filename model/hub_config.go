package model

// HubConfig is a singleton row read at startup.
type HubConfig struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:true"`
	ContractAddress string `gorm:"type:varchar(42)"`
	HubAddress      string `gorm:"type:varchar(42)"`
	// DisputePeriod is the contract's challenge window in seconds.
	DisputePeriod int64
}

func (HubConfig) TableName() string {
	return "hub_config"
}
