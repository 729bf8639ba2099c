package btcwatch

import (
	"context"
	"net/http"
	"runtime"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"
	"github.com/vianetwork/btcwatch/src/utils/task"
	"github.com/vianetwork/btcwatch/src/votes"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rest API server, serves monitor counters and the canonical chain
type Server struct {
	*task.Task

	httpServer *http.Server
	Router     *gin.Engine

	monitor    monitoring.Monitor
	aggregator *votes.Aggregator
}

func NewServer(config *config.Config) (self *Server) {
	self = new(Server)

	self.Task = task.NewTask(config, "server").
		WithOnBeforeStart(self.setup).
		WithSubtaskFunc(self.run).
		WithOnStop(self.stop)

	if !config.IsDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	self.Router = gin.New()
	self.Router.Use(gin.Recovery())

	self.httpServer = &http.Server{
		Addr:    self.Config.RESTListenAddress,
		Handler: self.Router,
	}

	return
}

func (self *Server) WithMonitor(monitor monitoring.Monitor) *Server {
	self.monitor = monitor
	return self
}

// Optional, canonical chain is served only by coordinating roles
func (self *Server) WithAggregator(aggregator *votes.Aggregator) *Server {
	self.aggregator = aggregator
	return self
}

func (self *Server) setup() (err error) {
	// Private registry, nothing registered by libraries leaks in
	registry := prometheus.NewRegistry()
	err = registry.Register(self.monitor.GetPrometheusCollector())
	if err != nil {
		return
	}

	v1 := self.Router.Group("v1")
	{
		v1.GET("state", self.monitor.OnGetState)
		v1.GET("health", self.monitor.OnGetHealth)
		if self.aggregator != nil {
			v1.GET("canonical-chain", self.aggregator.OnGetCanonicalChain)
		}
	}

	self.Router.GET("metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	if self.Config.Profiler.Enabled {
		runtime.SetBlockProfileRate(self.Config.Profiler.BlockProfileRate)
		pprof.Register(self.Router)
	}
	return nil
}

func (self *Server) run() (err error) {
	err = self.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		self.Log.WithError(err).Error("Failed to start REST server")
		return
	}
	return nil
}

func (self *Server) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), self.Config.StopTimeout)
	defer cancel()

	err := self.httpServer.Shutdown(ctx)
	if err != nil {
		self.Log.WithError(err).Error("Failed to gracefully shutdown REST server")
		return
	}
}
