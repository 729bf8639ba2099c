package model

const TableDeposit = "via_deposits"

// Bitcoin deposit into the bridge, becomes a priority L2 transaction
type Deposit struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Module     string `gorm:"uniqueIndex:idx_deposits_origin;uniqueIndex:idx_deposits_priority"`
	PriorityID uint64 `gorm:"uniqueIndex:idx_deposits_priority"`

	// Bitcoin address of the depositor
	Sender string

	// L2 address
	Receiver  string
	ValueSats int64
	Calldata  []byte

	// Txid in L2 hash form
	CanonicalTxHash string

	BlockNumber uint32 `gorm:"index"`
	Txid        string `gorm:"uniqueIndex:idx_deposits_origin"`
	Vout        uint32 `gorm:"uniqueIndex:idx_deposits_origin"`
	Timestamp   int64
}

func (Deposit) TableName() string {
	return TableDeposit
}
