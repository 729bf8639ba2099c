package model

const TableBlockHash = "via_btc_block_hashes"

// Block hash observed while indexing, used to detect reorgs after restarts
type BlockHash struct {
	Module string `gorm:"primaryKey"`
	Height uint32 `gorm:"primaryKey"`

	// Display (reversed) hex encoding
	Hash string
}

func (BlockHash) TableName() string {
	return TableBlockHash
}
