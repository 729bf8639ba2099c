package votes

import (
	"github.com/vianetwork/btcwatch/src/utils/model"
)

// Approvals needed for a batch to become canonical, ceil(2n/3)
func Quorum(verifiers int) int {
	return (2*verifiers + 2) / 3
}

// Rejections that veto a batch, ceil(n/3)
func VetoThreshold(verifiers int) int {
	return (verifiers + 2) / 3
}

func Classify(approvals, rejections, verifiers int) model.BatchStatus {
	if verifiers == 0 {
		return model.BatchStatusPending
	}
	if rejections >= VetoThreshold(verifiers) {
		return model.BatchStatusRejected
	}
	if approvals >= Quorum(verifiers) {
		return model.BatchStatusCanonical
	}
	return model.BatchStatusPending
}
