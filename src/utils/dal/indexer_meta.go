package dal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNonMonotonicCursor   = errors.New("cursor may only move forward")
	ErrCursorBelowStart     = errors.New("existing cursor is below the requested start block")
	ErrCursorNotInitialized = errors.New("cursor is not initialized")
	ErrRewindAboveCursor    = errors.New("rewind target is above the cursor")
)

// Per module cursor of processed L1 blocks
type IndexerMetaDal interface {
	// Returns 0 if the module has no cursor yet
	GetLastProcessedL1Block(ctx context.Context, module string) (uint32, error)

	// Creates the cursor at startBlock. No-op if it already exists at or above startBlock.
	InitIndexerMetadata(ctx context.Context, module string, startBlock uint32) error

	// Moves the cursor forward, fails with ErrNonMonotonicCursor otherwise
	UpdateLastProcessedL1Block(ctx context.Context, module string, newBlock uint32) error

	// Moves the cursor back to target and removes the module's rows above it
	Rewind(ctx context.Context, module string, target uint32) error
}

type indexerMetaDal struct {
	db *gorm.DB
}

func (self *indexerMetaDal) get(ctx context.Context, module string) (meta *model.IndexerMetadata, err error) {
	meta = new(model.IndexerMetadata)
	err = self.db.WithContext(ctx).
		Where("module = ?", module).
		Limit(1).
		Find(meta).
		Error
	if err != nil {
		return nil, err
	}
	if meta.Module == "" {
		return nil, nil
	}
	return
}

func (self *indexerMetaDal) GetLastProcessedL1Block(ctx context.Context, module string) (uint32, error) {
	meta, err := self.get(ctx, module)
	if err != nil || meta == nil {
		return 0, err
	}
	return meta.LastProcessedL1Block, nil
}

func (self *indexerMetaDal) InitIndexerMetadata(ctx context.Context, module string, startBlock uint32) (err error) {
	err = self.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.IndexerMetadata{
			Module:               module,
			LastProcessedL1Block: startBlock,
		}).
		Error
	if err != nil {
		return
	}

	current, err := self.GetLastProcessedL1Block(ctx, module)
	if err != nil {
		return
	}

	if current < startBlock {
		return fmt.Errorf("%w: module %s is at %d, start is %d", ErrCursorBelowStart, module, current, startBlock)
	}
	return nil
}

func (self *indexerMetaDal) UpdateLastProcessedL1Block(ctx context.Context, module string, newBlock uint32) (err error) {
	// Conditional update keeps the check and the write atomic
	result := self.db.WithContext(ctx).
		Model(&model.IndexerMetadata{}).
		Where("module = ? AND last_processed_l1_block < ?", module, newBlock).
		Updates(map[string]interface{}{
			"last_processed_l1_block": newBlock,
			"updated_at":              time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	meta, err := self.get(ctx, module)
	if err != nil {
		return
	}
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrCursorNotInitialized, module)
	}
	return fmt.Errorf("%w: module %s is at %d, requested %d", ErrNonMonotonicCursor, module, meta.LastProcessedL1Block, newBlock)
}

func (self *indexerMetaDal) Rewind(ctx context.Context, module string, target uint32) error {
	return self.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		meta, err := (&indexerMetaDal{db: tx}).get(ctx, module)
		if err != nil {
			return
		}
		if meta == nil {
			return fmt.Errorf("%w: %s", ErrCursorNotInitialized, module)
		}
		if target > meta.LastProcessedL1Block {
			return fmt.Errorf("%w: module %s is at %d, target %d", ErrRewindAboveCursor, module, meta.LastProcessedL1Block, target)
		}

		for _, table := range []string{
			model.TableVote,
			model.TableDeposit,
			model.TableWithdrawal,
			model.TableL1Batch,
			model.TableProtocolUpgrade,
			model.TableSystemWallets,
		} {
			err = tx.Exec("DELETE FROM "+table+" WHERE module = ? AND block_number > ?", module, target).Error
			if err != nil {
				return
			}
		}

		err = tx.Where("module = ? AND height > ?", module, target).
			Delete(&model.BlockHash{}).
			Error
		if err != nil {
			return
		}

		return tx.Model(&model.IndexerMetadata{}).
			Where("module = ?", module).
			Updates(map[string]interface{}{
				"last_processed_l1_block": target,
				"updated_at":              time.Now(),
			}).
			Error
	})
}
