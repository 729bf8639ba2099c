package roles

import (
	"github.com/vianetwork/btcwatch/src/utils/monitoring"
	"github.com/vianetwork/btcwatch/src/utils/monitoring/report"
)

// Counters of one iteration, reported only after commit
type stats struct {
	applied        uint64
	skipped        uint64
	unauthorized   uint64
	invalidVotes   uint64
	invalidWallets uint64
	votesRecorded  uint64
	votesCast      uint64
}

func (self *stats) report(monitor monitoring.Monitor) {
	if monitor == nil {
		return
	}

	r := monitor.GetReport().BtcWatch
	r.State.InscriptionsProcessed.Add(report.StageApplied, self.applied)
	r.State.InscriptionsProcessed.Add(report.StageSkipped, self.skipped)
	r.State.InscriptionsProcessed.Add(report.StageUnauthorized, self.unauthorized)
	r.State.VotesRecorded.Add(self.votesRecorded)
	r.State.VotesCast.Add(self.votesCast)
	r.Errors.InvalidVotes.Add(self.invalidVotes)
	r.Errors.InvalidWallets.Add(self.invalidWallets)
}
