package model

type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusCanonical BatchStatus = "canonical"
	BatchStatusRejected  BatchStatus = "rejected"
)

const TableL1Batch = "via_l1_batches"

// L2 batch committed on Bitcoin by the sequencer
type L1Batch struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Module      string `gorm:"uniqueIndex:idx_l1_batches_number"`
	BatchNumber uint64 `gorm:"uniqueIndex:idx_l1_batches_number"`

	// 0x prefixed hex
	PrevRoot string
	NewRoot  string

	// Location of the proof on the DA layer
	BlobID string

	// Display order hex txids
	CommitTxid string
	RevealTxid string

	// Protocol version the proof was checked against
	ProtocolVersion string

	BlockNumber uint32 `gorm:"index"`
	Timestamp   int64

	Approvals  int
	Rejections int
	Status     BatchStatus
}

func (L1Batch) TableName() string {
	return TableL1Batch
}

func (self *L1Batch) IsCanonical() bool {
	return self.Status == BatchStatusCanonical
}
