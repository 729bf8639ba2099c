package model

const TableProtocolUpgrade = "via_protocol_upgrades"

type ProtocolUpgrade struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Module string `gorm:"uniqueIndex:idx_protocol_upgrades_origin"`

	Version        string
	BootloaderHash string
	DefaultAAHash  string `gorm:"column:default_aa_hash"`

	// First batch verified with this version
	ActivationBatch uint64 `gorm:"index"`

	BlockNumber uint32 `gorm:"index"`
	Txid        string `gorm:"uniqueIndex:idx_protocol_upgrades_origin"`
	Vout        uint32 `gorm:"uniqueIndex:idx_protocol_upgrades_origin"`
}

func (ProtocolUpgrade) TableName() string {
	return TableProtocolUpgrade
}
