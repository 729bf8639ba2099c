package monitor_btc_watch

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	monitor *Monitor

	// Run
	UpForSeconds *prometheus.Desc

	// BtcWatch
	InscriptionsProcessed  *prometheus.Desc
	LastIndexedBlockNumber *prometheus.Desc
	CurrentBlockNumber     *prometheus.Desc
	FeeRate                *prometheus.Desc
	SoftReorgTotal         *prometheus.Desc
	HardReorgTotal         *prometheus.Desc
	LastValidL1Batch       *prometheus.Desc
	LastInvalidL1Batch     *prometheus.Desc
	IterationsProcessed    *prometheus.Desc
	VotesCast              *prometheus.Desc

	// Errors
	RpcErrors             *prometheus.Desc
	RpcMaxRetriesExceeded *prometheus.Desc
	IterationFailures     *prometheus.Desc
	DecodeFailures        *prometheus.Desc
	InvalidVotes          *prometheus.Desc
	DaFailures            *prometheus.Desc
	VerifierFailures      *prometheus.Desc
	InscriberFailures     *prometheus.Desc

	// Redis publisher
	MessagesPublished *prometheus.Desc
	PublishErrors     *prometheus.Desc
}

func NewCollector() *Collector {
	return &Collector{
		// Run
		UpForSeconds: prometheus.NewDesc("up_for_seconds", "", nil, nil),

		// BtcWatch
		InscriptionsProcessed:  prometheus.NewDesc("inscriptions_processed", "", []string{"stage"}, nil),
		LastIndexedBlockNumber: prometheus.NewDesc("last_indexed_block_number", "", nil, nil),
		CurrentBlockNumber:     prometheus.NewDesc("current_block_number", "", nil, nil),
		FeeRate:                prometheus.NewDesc("fee_rate", "", nil, nil),
		SoftReorgTotal:         prometheus.NewDesc("soft_reorg_total", "", nil, nil),
		HardReorgTotal:         prometheus.NewDesc("hard_reorg_total", "", nil, nil),
		LastValidL1Batch:       prometheus.NewDesc("last_valid_l1_batch", "", nil, nil),
		LastInvalidL1Batch:     prometheus.NewDesc("last_invalid_l1_batch", "", nil, nil),
		IterationsProcessed:    prometheus.NewDesc("iterations_processed", "", nil, nil),
		VotesCast:              prometheus.NewDesc("votes_cast", "", nil, nil),

		// Errors
		RpcErrors:             prometheus.NewDesc("rpc_errors", "", []string{"method"}, nil),
		RpcMaxRetriesExceeded: prometheus.NewDesc("rpc_max_retries_exceeded", "", []string{"method"}, nil),
		IterationFailures:     prometheus.NewDesc("error_iteration", "", nil, nil),
		DecodeFailures:        prometheus.NewDesc("error_decode", "", nil, nil),
		InvalidVotes:          prometheus.NewDesc("error_invalid_vote", "", nil, nil),
		DaFailures:            prometheus.NewDesc("error_da", "", nil, nil),
		VerifierFailures:      prometheus.NewDesc("error_verifier", "", nil, nil),
		InscriberFailures:     prometheus.NewDesc("error_inscriber", "", nil, nil),

		// Redis publisher
		MessagesPublished: prometheus.NewDesc("redis_messages_published", "", nil, nil),
		PublishErrors:     prometheus.NewDesc("error_redis_publish", "", nil, nil),
	}
}

func (self *Collector) WithMonitor(m *Monitor) *Collector {
	self.monitor = m
	return self
}

func (self *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Run
	ch <- self.UpForSeconds

	// BtcWatch
	ch <- self.InscriptionsProcessed
	ch <- self.LastIndexedBlockNumber
	ch <- self.CurrentBlockNumber
	ch <- self.FeeRate
	ch <- self.SoftReorgTotal
	ch <- self.HardReorgTotal
	ch <- self.LastValidL1Batch
	ch <- self.LastInvalidL1Batch
	ch <- self.IterationsProcessed
	ch <- self.VotesCast
	self.monitor.Report.BtcWatch.VerificationTime.Describe(ch)

	// Errors
	ch <- self.RpcErrors
	ch <- self.RpcMaxRetriesExceeded
	ch <- self.IterationFailures
	ch <- self.DecodeFailures
	ch <- self.InvalidVotes
	ch <- self.DaFailures
	ch <- self.VerifierFailures
	ch <- self.InscriberFailures

	// Redis publisher
	ch <- self.MessagesPublished
	ch <- self.PublishErrors
}

// Collect implements required collect function for all promehteus collectors
func (self *Collector) Collect(ch chan<- prometheus.Metric) {
	self.monitor.fill()

	// Run
	ch <- prometheus.MustNewConstMetric(self.UpForSeconds, prometheus.GaugeValue, float64(self.monitor.Report.Run.State.UpForSeconds.Load()))

	// BtcWatch
	state := &self.monitor.Report.BtcWatch.State
	state.InscriptionsProcessed.Range(func(stage string, value uint64) {
		ch <- prometheus.MustNewConstMetric(self.InscriptionsProcessed, prometheus.CounterValue, float64(value), stage)
	})
	ch <- prometheus.MustNewConstMetric(self.LastIndexedBlockNumber, prometheus.GaugeValue, float64(state.LastIndexedBlockNumber.Load()))
	ch <- prometheus.MustNewConstMetric(self.CurrentBlockNumber, prometheus.GaugeValue, float64(state.CurrentBlockNumber.Load()))
	ch <- prometheus.MustNewConstMetric(self.FeeRate, prometheus.GaugeValue, float64(state.FeeRate.Load()))
	ch <- prometheus.MustNewConstMetric(self.SoftReorgTotal, prometheus.CounterValue, float64(state.SoftReorgTotal.Load()))
	ch <- prometheus.MustNewConstMetric(self.HardReorgTotal, prometheus.CounterValue, float64(state.HardReorgTotal.Load()))
	ch <- prometheus.MustNewConstMetric(self.LastValidL1Batch, prometheus.GaugeValue, float64(state.LastValidL1Batch.Load()))
	ch <- prometheus.MustNewConstMetric(self.LastInvalidL1Batch, prometheus.GaugeValue, float64(state.LastInvalidL1Batch.Load()))
	ch <- prometheus.MustNewConstMetric(self.IterationsProcessed, prometheus.CounterValue, float64(state.IterationsProcessed.Load()))
	ch <- prometheus.MustNewConstMetric(self.VotesCast, prometheus.CounterValue, float64(state.VotesCast.Load()))
	self.monitor.Report.BtcWatch.VerificationTime.Collect(ch)

	// Errors
	errs := &self.monitor.Report.BtcWatch.Errors
	errs.RpcErrors.Range(func(method string, value uint64) {
		ch <- prometheus.MustNewConstMetric(self.RpcErrors, prometheus.CounterValue, float64(value), method)
	})
	errs.RpcMaxRetriesExceeded.Range(func(method string, value uint64) {
		ch <- prometheus.MustNewConstMetric(self.RpcMaxRetriesExceeded, prometheus.CounterValue, float64(value), method)
	})
	ch <- prometheus.MustNewConstMetric(self.IterationFailures, prometheus.CounterValue, float64(errs.IterationFailures.Load()))
	ch <- prometheus.MustNewConstMetric(self.DecodeFailures, prometheus.CounterValue, float64(errs.DecodeFailures.Load()))
	ch <- prometheus.MustNewConstMetric(self.InvalidVotes, prometheus.CounterValue, float64(errs.InvalidVotes.Load()))
	ch <- prometheus.MustNewConstMetric(self.DaFailures, prometheus.CounterValue, float64(errs.DaFailures.Load()))
	ch <- prometheus.MustNewConstMetric(self.VerifierFailures, prometheus.CounterValue, float64(errs.VerifierFailures.Load()))
	ch <- prometheus.MustNewConstMetric(self.InscriberFailures, prometheus.CounterValue, float64(errs.InscriberFailures.Load()))

	// Redis publisher
	ch <- prometheus.MustNewConstMetric(self.MessagesPublished, prometheus.CounterValue, float64(self.monitor.Report.RedisPublisher.State.MessagesPublished.Load()))
	ch <- prometheus.MustNewConstMetric(self.PublishErrors, prometheus.CounterValue, float64(self.monitor.Report.RedisPublisher.Errors.Publish.Load()))
}
