package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgtype"
	"golang.org/x/exp/slices"
)

const TableSystemWallets = "via_system_wallets"

// Bitcoin addresses and keys recognized as protocol-authoritative
type SystemWallets struct {
	Sequencer  string `json:"sequencer"`
	Bridge     string `json:"bridge"`
	Governance string `json:"governance"`

	// Hex encoded x-only public keys
	Verifiers []string `json:"verifiers"`
}

func (self *SystemWallets) IsVerifier(pubkey string) bool {
	pubkey = strings.ToLower(pubkey)
	return slices.ContainsFunc(self.Verifiers, func(v string) bool {
		return strings.ToLower(v) == pubkey
	})
}

func (self *SystemWallets) Clone() *SystemWallets {
	if self == nil {
		return nil
	}
	out := *self
	out.Verifiers = slices.Clone(self.Verifiers)
	return &out
}

// Snapshot of system wallets effective from BlockNumber
type SystemWalletsRecord struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Module string `gorm:"uniqueIndex:idx_system_wallets_origin"`

	// Height 0 denotes the bootstrap set
	BlockNumber uint32 `gorm:"index"`
	Txid        string `gorm:"uniqueIndex:idx_system_wallets_origin"`
	Vout        uint32 `gorm:"uniqueIndex:idx_system_wallets_origin"`

	Details   pgtype.JSONB `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (SystemWalletsRecord) TableName() string {
	return TableSystemWallets
}

func (self *SystemWalletsRecord) GetDetails() (out *SystemWallets, err error) {
	out = new(SystemWallets)
	err = json.Unmarshal(self.Details.Bytes, out)
	return
}

func (self *SystemWalletsRecord) SetDetails(details *SystemWallets) (err error) {
	buf, err := json.Marshal(details)
	if err != nil {
		return
	}
	return self.Details.Set(buf)
}
