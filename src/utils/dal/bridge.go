package dal

import (
	"context"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DepositsDal struct {
	db     *gorm.DB
	module string
}

// Assigns the next priority id and stores the deposit.
// Returns false if the deposit's (txid, vout) is already known.
func (self *DepositsDal) Insert(ctx context.Context, deposit *model.Deposit) (inserted bool, err error) {
	var count int64
	err = self.db.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("module = ? AND txid = ? AND vout = ?", self.module, deposit.Txid, deposit.Vout).
		Count(&count).
		Error
	if err != nil || count > 0 {
		return
	}

	var next uint64
	err = self.db.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("module = ?", self.module).
		Select("COALESCE(MAX(priority_id) + 1, 0)").
		Scan(&next).
		Error
	if err != nil {
		return
	}

	deposit.Module = self.module
	deposit.PriorityID = next
	result := self.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(deposit)
	return result.RowsAffected == 1, result.Error
}

func (self *DepositsDal) List(ctx context.Context) (out []*model.Deposit, err error) {
	err = self.db.WithContext(ctx).
		Where("module = ?", self.module).
		Order("priority_id ASC").
		Find(&out).
		Error
	return
}

type WithdrawalsDal struct {
	db     *gorm.DB
	module string
}

func (self *WithdrawalsDal) Insert(ctx context.Context, withdrawal *model.Withdrawal) (inserted bool, err error) {
	withdrawal.Module = self.module
	result := self.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(withdrawal)
	return result.RowsAffected == 1, result.Error
}

func (self *WithdrawalsDal) List(ctx context.Context) (out []*model.Withdrawal, err error) {
	err = self.db.WithContext(ctx).
		Where("module = ?", self.module).
		Order("block_number ASC, id ASC").
		Find(&out).
		Error
	return
}
