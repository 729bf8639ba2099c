package model

const TableWithdrawal = "via_withdrawals"

// Bridge payout observed on Bitcoin
type Withdrawal struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Module string `gorm:"uniqueIndex:idx_withdrawals_origin"`

	// txid:vout of the inscription
	WithdrawalID string

	L2TxHash  string `gorm:"column:l2_tx_hash"`
	L2TxIndex uint64 `gorm:"column:l2_tx_index"`
	Receiver  string
	ValueSats int64

	BlockNumber uint32 `gorm:"index"`
	Txid        string `gorm:"uniqueIndex:idx_withdrawals_origin"`
	Vout        uint32 `gorm:"uniqueIndex:idx_withdrawals_origin"`
	Timestamp   int64
}

func (Withdrawal) TableName() string {
	return TableWithdrawal
}
