package monitor_btc_watch

import (
	"net/http"
	"time"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/monitoring/report"
	"github.com/vianetwork/btcwatch/src/utils/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron"
)

// Grace period after start during which the node is always healthy
const startupGracePeriod = 5 * time.Minute

// Stores and computes monitor counters
type Monitor struct {
	*task.Task

	Report report.Report

	collector *Collector

	// Healthy as long as iterations finish at least this often
	maxIterationDelay time.Duration

	statusSchedule string
}

func NewMonitor(config *config.Config) (self *Monitor) {
	self = new(Monitor)

	self.Report = report.Report{
		Run:            &report.RunReport{},
		BtcWatch:       report.NewBtcWatchReport(),
		RedisPublisher: &report.RedisPublisherReport{},
	}

	// Initialization
	self.Report.Run.State.StartTimestamp.Store(time.Now().Unix())
	self.Report.BtcWatch.State.Module = config.BtcWatch.ModuleName()
	self.Report.BtcWatch.State.Role = string(config.BtcWatch.Role)

	self.maxIterationDelay = 10 * config.BtcWatch.PollInterval
	if self.maxIterationDelay < time.Minute {
		self.maxIterationDelay = time.Minute
	}
	self.statusSchedule = config.BtcWatch.StatusLogSchedule

	self.collector = NewCollector().WithMonitor(self)

	self.Task = task.NewTask(config, "monitor").
		WithSubtaskFunc(self.run)

	return
}

func (self *Monitor) GetReport() *report.Report {
	return &self.Report
}

func (self *Monitor) GetPrometheusCollector() (collector prometheus.Collector) {
	return self.collector
}

func (self *Monitor) run() (err error) {
	if self.statusSchedule == "" {
		<-self.StopChannel
		return nil
	}

	c := cron.New()
	err = c.AddFunc(self.statusSchedule, self.logStatus)
	if err != nil {
		self.Log.WithError(err).WithField("schedule", self.statusSchedule).Error("Invalid status log schedule")
		return
	}

	c.Start()
	<-self.StopChannel
	c.Stop()
	return nil
}

func (self *Monitor) fill() {
	state := &self.Report.BtcWatch.State
	state.BlocksBehind.Store(int64(state.CurrentBlockNumber.Load()) - int64(state.LastIndexedBlockNumber.Load()))
	self.Report.Run.State.UpForSeconds.Store(uint64(time.Now().Unix() - self.Report.Run.State.StartTimestamp.Load()))
}

func (self *Monitor) logStatus() {
	self.fill()

	state := &self.Report.BtcWatch.State
	self.Log.
		WithField("module", state.Module).
		WithField("tip", state.CurrentBlockNumber.Load()).
		WithField("cursor", state.LastIndexedBlockNumber.Load()).
		WithField("behind", state.BlocksBehind.Load()).
		WithField("applied", state.InscriptionsProcessed.Load(report.StageApplied)).
		WithField("reorg_state", state.ReorgState.Load()).
		WithField("last_valid_l1_batch", state.LastValidL1Batch.Load()).
		WithField("canonical_ok", state.CanonicalChainOK.Load()).
		WithField("failures", self.Report.BtcWatch.Errors.IterationFailures.Load()).
		Info("Status")
}

func (self *Monitor) IsOK() bool {
	now := time.Now()
	if now.Unix()-self.Report.Run.State.StartTimestamp.Load() < int64(startupGracePeriod.Seconds()) {
		return true
	}

	// Running long enough, iterations must keep finishing
	last := self.Report.BtcWatch.State.LastIterationTimestamp.Load()
	return now.Sub(time.Unix(last, 0)) < self.maxIterationDelay
}

func (self *Monitor) OnGetState(c *gin.Context) {
	self.fill()
	c.JSON(http.StatusOK, &self.Report)
}

func (self *Monitor) OnGetHealth(c *gin.Context) {
	if self.IsOK() {
		c.Status(http.StatusOK)
	} else {
		c.Status(http.StatusServiceUnavailable)
	}
}
