package dal

import (
	"context"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletsDal interface {
	// Latest system wallets, nil if none were ever inserted
	LoadSystemWallets(ctx context.Context) (*model.SystemWallets, error)

	// Records wallets effective from blockNumber. Returns false if the same origin was already recorded.
	InsertWallets(ctx context.Context, details *model.SystemWallets, blockNumber uint32, txid string, vout uint32) (bool, error)
}

type walletsDal struct {
	db     *gorm.DB
	module string
}

func (self *walletsDal) LoadSystemWallets(ctx context.Context) (out *model.SystemWallets, err error) {
	var records []*model.SystemWalletsRecord
	err = self.db.WithContext(ctx).
		Where("module = ?", self.module).
		Order("block_number DESC, id DESC").
		Limit(1).
		Find(&records).
		Error
	if err != nil || len(records) == 0 {
		return
	}

	return records[0].GetDetails()
}

func (self *walletsDal) InsertWallets(ctx context.Context, details *model.SystemWallets, blockNumber uint32, txid string, vout uint32) (inserted bool, err error) {
	record := &model.SystemWalletsRecord{
		Module:      self.module,
		BlockNumber: blockNumber,
		Txid:        txid,
		Vout:        vout,
	}
	err = record.SetDetails(details)
	if err != nil {
		return
	}

	result := self.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	return result.RowsAffected == 1, result.Error
}
