package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired enrichment cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.SweepCache(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep cache")
		}

		zap.L().Info("cache swept", zap.Int("removed", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
