package dal

import (
	"context"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BatchesDal struct {
	db     *gorm.DB
	module string
}

// First commit of a batch number wins, later ones are ignored
func (self *BatchesDal) Insert(ctx context.Context, batch *model.L1Batch) (inserted bool, err error) {
	batch.Module = self.module
	if batch.Status == "" {
		batch.Status = model.BatchStatusPending
	}
	result := self.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(batch)
	return result.RowsAffected == 1, result.Error
}

// Nil if the batch is unknown
func (self *BatchesDal) Get(ctx context.Context, batchNumber uint64) (out *model.L1Batch, err error) {
	var batches []*model.L1Batch
	err = self.db.WithContext(ctx).
		Where("module = ? AND batch_number = ?", self.module, batchNumber).
		Limit(1).
		Find(&batches).
		Error
	if err != nil || len(batches) == 0 {
		return
	}
	return batches[0], nil
}

func (self *BatchesDal) List(ctx context.Context) (out []*model.L1Batch, err error) {
	err = self.db.WithContext(ctx).
		Where("module = ?", self.module).
		Order("batch_number ASC").
		Find(&out).
		Error
	return
}

func (self *BatchesDal) UpdateTally(ctx context.Context, batchNumber uint64, approvals, rejections int, status model.BatchStatus) error {
	return self.db.WithContext(ctx).
		Model(&model.L1Batch{}).
		Where("module = ? AND batch_number = ?", self.module, batchNumber).
		Updates(map[string]interface{}{
			"approvals":  approvals,
			"rejections": rejections,
			"status":     status,
		}).
		Error
}

// Highest batch number with the given status, 0 if there's none
func (self *BatchesDal) MaxWithStatus(ctx context.Context, status model.BatchStatus) (out uint64, err error) {
	err = self.db.WithContext(ctx).
		Model(&model.L1Batch{}).
		Where("module = ? AND status = ?", self.module, status).
		Select("COALESCE(MAX(batch_number), 0)").
		Scan(&out).
		Error
	return
}
