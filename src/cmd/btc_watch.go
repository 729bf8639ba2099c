package cmd

import (
	"github.com/vianetwork/btcwatch/src/btcwatch"
	"github.com/vianetwork/btcwatch/src/utils/logger"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(btcWatchCmd)
}

var btcWatchCmd = &cobra.Command{
	Use:   "btc_watch",
	Short: "Follow Bitcoin, index inscriptions and run the configured role",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		controller, err := btcwatch.NewController(conf)
		if err != nil {
			return
		}

		err = controller.Start()
		if err != nil {
			return
		}

		select {
		case <-controller.CtxRunning.Done():
		case <-applicationCtx.Done():
		}

		controller.StopWait()

		// Set if the controller stopped on its own
		return controller.Err()
	},
	PostRunE: func(cmd *cobra.Command, args []string) (err error) {
		log := logger.NewSublogger("root-cmd")
		log.Debug("Finished btc_watch command")
		applicationCtxCancel()
		return
	},
}
