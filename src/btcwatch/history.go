package btcwatch

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/reorg"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/model"
)

// Block hashes persisted by committed iterations
type History struct {
	store *dal.Store
}

func NewHistory(store *dal.Store) *History {
	return &History{store: store}
}

func (self *History) Below(ctx context.Context, height uint32, limit int) (out []reorg.Entry, err error) {
	rows, err := self.store.BlockHashes().Below(ctx, height, limit)
	if err != nil {
		return
	}
	return toEntries(rows)
}

// Up to limit most recent hashes, lowest first
func (self *History) Latest(ctx context.Context, limit int) (out []reorg.Entry, err error) {
	rows, err := self.store.BlockHashes().Latest(ctx, limit)
	if err != nil {
		return
	}
	return toEntries(rows)
}

func toEntries(rows []model.BlockHash) (out []reorg.Entry, err error) {
	out = make([]reorg.Entry, 0, len(rows))
	for _, row := range rows {
		hash, err := chainhash.NewHashFromStr(row.Hash)
		if err != nil {
			return nil, err
		}
		out = append(out, reorg.Entry{Height: row.Height, Hash: *hash})
	}
	return
}
