package dal

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// Module scoped access to the database. A Store returned by Transaction
// shares the transaction with every DAL it hands out.
type Store struct {
	db        *gorm.DB
	module    string
	txOptions *sql.TxOptions
}

func New(db *gorm.DB, module string) *Store {
	return &Store{db: db, module: module}
}

func (self *Store) WithIsolation(level sql.IsolationLevel) *Store {
	self.txOptions = &sql.TxOptions{Isolation: level}
	return self
}

func (self *Store) Module() string {
	return self.module
}

func (self *Store) DB() *gorm.DB {
	return self.db
}

// Runs fn in a transaction, nested calls use savepoints
func (self *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	var opts []*sql.TxOptions
	if self.txOptions != nil {
		opts = append(opts, self.txOptions)
	}

	return self.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, module: self.module, txOptions: self.txOptions})
	}, opts...)
}

func (self *Store) IndexerMeta() IndexerMetaDal {
	return &indexerMetaDal{db: self.db}
}

func (self *Store) Wallets() WalletsDal {
	return &walletsDal{db: self.db, module: self.module}
}

func (self *Store) Votes() VotesDal {
	return &votesDal{db: self.db, module: self.module}
}

func (self *Store) Batches() *BatchesDal {
	return &BatchesDal{db: self.db, module: self.module}
}

func (self *Store) Deposits() *DepositsDal {
	return &DepositsDal{db: self.db, module: self.module}
}

func (self *Store) Withdrawals() *WithdrawalsDal {
	return &WithdrawalsDal{db: self.db, module: self.module}
}

func (self *Store) Upgrades() *UpgradesDal {
	return &UpgradesDal{db: self.db, module: self.module}
}

func (self *Store) BlockHashes() *BlockHashesDal {
	return &BlockHashesDal{db: self.db, module: self.module}
}
