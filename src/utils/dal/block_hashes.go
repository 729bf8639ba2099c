package dal

import (
	"context"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"golang.org/x/exp/slices"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlockHashesDal struct {
	db     *gorm.DB
	module string
}

// Stores hashes and drops the ones more than keep blocks below the highest saved
func (self *BlockHashesDal) Save(ctx context.Context, hashes []model.BlockHash, keep uint32) (err error) {
	if len(hashes) == 0 {
		return nil
	}

	for i := range hashes {
		hashes[i].Module = self.module
	}

	err = self.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "module"}, {Name: "height"}},
			DoUpdates: clause.AssignmentColumns([]string{"hash"}),
		}).
		CreateInBatches(hashes, 500).
		Error
	if err != nil {
		return
	}

	top := hashes[len(hashes)-1].Height
	if keep == 0 || top <= keep {
		return nil
	}

	return self.db.WithContext(ctx).
		Where("module = ? AND height <= ?", self.module, top-keep).
		Delete(&model.BlockHash{}).
		Error
}

// Up to limit most recent hashes in ascending height order
func (self *BlockHashesDal) Latest(ctx context.Context, limit int) (out []model.BlockHash, err error) {
	err = self.db.WithContext(ctx).
		Where("module = ?", self.module).
		Order("height DESC").
		Limit(limit).
		Find(&out).
		Error
	if err != nil {
		return
	}

	slices.Reverse(out)
	return
}

// Up to limit hashes strictly below height, highest first
func (self *BlockHashesDal) Below(ctx context.Context, height uint32, limit int) (out []model.BlockHash, err error) {
	err = self.db.WithContext(ctx).
		Where("module = ? AND height < ?", self.module, height).
		Order("height DESC").
		Limit(limit).
		Find(&out).
		Error
	return
}
