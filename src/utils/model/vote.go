package model

const TableVote = "via_votes"

type Vote struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Module      string `gorm:"uniqueIndex:idx_votes_voter"`
	BatchNumber uint64 `gorm:"uniqueIndex:idx_votes_voter"`

	// Hex encoded x-only public key
	Voter string `gorm:"uniqueIndex:idx_votes_voter"`

	Approve   bool
	Signature string

	BlockNumber uint32 `gorm:"index"`
	Txid        string
	Vout        uint32
}

func (Vote) TableName() string {
	return TableVote
}
