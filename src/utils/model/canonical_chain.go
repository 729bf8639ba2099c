package model

import (
	"encoding/json"

	"golang.org/x/exp/slices"
)

// Derived view of canonical batches, never stored
type CanonicalChainStatus struct {
	IsValid               bool     `json:"is_valid"`
	TotalCanonicalBatches int      `json:"total_canonical_batches"`
	MinBatchNumber        uint64   `json:"min_batch_number"`
	MaxBatchNumber        uint64   `json:"max_batch_number"`
	MissingBatches        []uint64 `json:"missing_batches"`
	BatchSequence         []uint64 `json:"batch_sequence"`
	TotalTransactionsInDb int64    `json:"total_transactions_in_db"`
	HasGenesis            bool     `json:"has_genesis"`
}

// Computes status from canonical batch numbers in any order.
// totalInDb is the number of batch rows regardless of their status.
func NewCanonicalChainStatus(canonical []uint64, totalInDb int64, genesis uint64) (self CanonicalChainStatus) {
	sequence := slices.Clone(canonical)
	slices.Sort(sequence)
	sequence = slices.Compact(sequence)

	self.BatchSequence = sequence
	self.MissingBatches = []uint64{}
	self.TotalCanonicalBatches = len(sequence)
	self.TotalTransactionsInDb = totalInDb

	if len(sequence) == 0 {
		return
	}

	self.MinBatchNumber = sequence[0]
	self.MaxBatchNumber = sequence[len(sequence)-1]
	self.HasGenesis = self.MinBatchNumber == genesis

	expected := self.MinBatchNumber
	for _, n := range sequence {
		for ; expected < n; expected++ {
			self.MissingBatches = append(self.MissingBatches, expected)
		}
		expected = n + 1
	}

	self.IsValid = self.HasGenesis && len(self.MissingBatches) == 0
	return
}

func (self CanonicalChainStatus) Equal(other CanonicalChainStatus) bool {
	return self.IsValid == other.IsValid &&
		self.TotalCanonicalBatches == other.TotalCanonicalBatches &&
		self.MinBatchNumber == other.MinBatchNumber &&
		self.MaxBatchNumber == other.MaxBatchNumber &&
		self.TotalTransactionsInDb == other.TotalTransactionsInDb &&
		self.HasGenesis == other.HasGenesis &&
		slices.Equal(self.MissingBatches, other.MissingBatches) &&
		slices.Equal(self.BatchSequence, other.BatchSequence)
}

func (self CanonicalChainStatus) MarshalBinary() (data []byte, err error) {
	return json.Marshal(self)
}
