package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/model"
)

var syncType string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the phone cache from ConnectWise once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		t, err := parseSyncType(syncType)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id, tally, err := newSyncer(cfg, st, newConnectWise(cfg.ConnectWise)).Run(ctx, t)
		fmt.Fprintf(os.Stdout, "sync %d (%s): processed=%d added=%d updated=%d\n",
			id, t, tally.Processed, tally.Added, tally.Updated)
		if err != nil {
			return eris.Wrapf(err, "sync %d failed", id)
		}
		zap.L().Info("sync complete", zap.Int64("sync_id", id))
		return nil
	},
}

func parseSyncType(s string) (model.SyncType, error) {
	switch t := model.SyncType(s); t {
	case model.SyncTypeInitial, model.SyncTypeStartup, model.SyncTypeAuto, model.SyncTypeManual:
		return t, nil
	}
	return "", eris.Errorf("unknown sync type %q (initial, startup, auto, manual)", s)
}

func init() {
	syncCmd.Flags().StringVar(&syncType, "type", string(model.SyncTypeManual), "sync type recorded in the sync log")
	rootCmd.AddCommand(syncCmd)
}
