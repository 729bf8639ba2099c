package dal

import (
	"context"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UpgradesDal struct {
	db     *gorm.DB
	module string
}

func (self *UpgradesDal) Insert(ctx context.Context, upgrade *model.ProtocolUpgrade) (inserted bool, err error) {
	upgrade.Module = self.module
	result := self.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(upgrade)
	return result.RowsAffected == 1, result.Error
}

// Upgrade in force for the batch, nil when no upgrade activated yet.
// Later inscriptions win over earlier ones with the same activation batch.
func (self *UpgradesDal) ActiveFor(ctx context.Context, batchNumber uint64) (out *model.ProtocolUpgrade, err error) {
	var upgrades []*model.ProtocolUpgrade
	err = self.db.WithContext(ctx).
		Where("module = ? AND activation_batch <= ?", self.module, batchNumber).
		Order("activation_batch DESC, block_number DESC, id DESC").
		Limit(1).
		Find(&upgrades).
		Error
	if err != nil || len(upgrades) == 0 {
		return
	}
	return upgrades[0], nil
}

func (self *UpgradesDal) List(ctx context.Context) (out []*model.ProtocolUpgrade, err error) {
	err = self.db.WithContext(ctx).
		Where("module = ?", self.module).
		Order("activation_batch ASC, block_number ASC, id ASC").
		Find(&out).
		Error
	return
}
