package dal

import (
	"context"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VotesDal interface {
	// Inserts the vote unless the voter already voted on the batch
	UpsertVote(ctx context.Context, vote *model.Vote) (bool, error)

	GetVotesForBatch(ctx context.Context, batchNumber uint64) ([]*model.Vote, error)

	// Status computed from canonical batches stored in the database
	CanonicalChainStatus(ctx context.Context, genesis uint64) (model.CanonicalChainStatus, error)
}

type votesDal struct {
	db     *gorm.DB
	module string
}

func (self *votesDal) UpsertVote(ctx context.Context, vote *model.Vote) (inserted bool, err error) {
	vote.Module = self.module
	result := self.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(vote)
	return result.RowsAffected == 1, result.Error
}

func (self *votesDal) GetVotesForBatch(ctx context.Context, batchNumber uint64) (out []*model.Vote, err error) {
	err = self.db.WithContext(ctx).
		Where("module = ? AND batch_number = ?", self.module, batchNumber).
		Order("id ASC").
		Find(&out).
		Error
	return
}

func (self *votesDal) CanonicalChainStatus(ctx context.Context, genesis uint64) (status model.CanonicalChainStatus, err error) {
	var canonical []uint64
	err = self.db.WithContext(ctx).
		Model(&model.L1Batch{}).
		Where("module = ? AND status = ?", self.module, model.BatchStatusCanonical).
		Order("batch_number ASC").
		Pluck("batch_number", &canonical).
		Error
	if err != nil {
		return
	}

	var total int64
	err = self.db.WithContext(ctx).
		Model(&model.L1Batch{}).
		Where("module = ?", self.module).
		Count(&total).
		Error
	if err != nil {
		return
	}

	return model.NewCanonicalChainStatus(canonical, total, genesis), nil
}
