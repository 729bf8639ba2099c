package model

import "time"

const TableIndexerMetadata = "via_indexer_metadata"

// Cursor of a single module. Exactly one row per module.
type IndexerMetadata struct {
	Module string `gorm:"primaryKey"`

	// Height of the last fully processed L1 block
	LastProcessedL1Block uint32 `gorm:"column:last_processed_l1_block"`

	UpdatedAt time.Time
}

func (IndexerMetadata) TableName() string {
	return TableIndexerMetadata
}
