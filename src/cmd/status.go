package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/logger"
	"github.com/vianetwork/btcwatch/src/utils/model"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the module's cursor and canonical chain status",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		db, err := model.NewConnection(applicationCtx, conf, "btc-watch-status")
		if err != nil {
			return
		}

		module := conf.BtcWatch.ModuleName()
		store := dal.New(db, module)

		cursor, err := store.IndexerMeta().GetLastProcessedL1Block(applicationCtx, module)
		if err != nil {
			return
		}

		status, err := store.Votes().CanonicalChainStatus(applicationCtx, conf.BtcWatch.GenesisBatchNumber)
		if err != nil {
			return
		}

		out, err := json.MarshalIndent(struct {
			Module               string                     `json:"module"`
			LastProcessedL1Block uint32                     `json:"last_processed_l1_block"`
			CanonicalChain       model.CanonicalChainStatus `json:"canonical_chain"`
		}{module, cursor, status}, "", "  ")
		if err != nil {
			return
		}

		fmt.Println(string(out))
		return
	},
	PostRunE: func(cmd *cobra.Command, args []string) (err error) {
		log := logger.NewSublogger("root-cmd")
		log.Debug("Finished status command")
		applicationCtxCancel()
		return
	},
}
