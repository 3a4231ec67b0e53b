package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/storage"
	"github.com/vjranagit/empe/pkg/types"
)

var (
	archiveEvent  string
	archiveModel  string
	archiveLabels map[string]string
)

// archiveCmd stores sample files in the run archive
var archiveCmd = &cobra.Command{
	Use:   "archive <samples>...",
	Short: "Store sample files in the run archive",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().StringVar(&archiveEvent, "event", "", "Event name")
	archiveCmd.Flags().StringVarP(&archiveModel, "model", "m", "", "Emission model the samples were drawn for")
	archiveCmd.Flags().StringToStringVarP(&archiveLabels, "label", "l", nil, "Extra labels, key=value")
}

func runArchive(cmd *cobra.Command, args []string) error {
	store, err := storage.NewStorage(cfg.ToStorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	for _, path := range args {
		set, err := readSamples(path)
		if err != nil {
			return err
		}
		meta := types.RunMeta{
			Event:  archiveEvent,
			Model:  archiveModel,
			Labels: archiveLabels,
		}
		id, err := store.PutRun(cmd.Context(), meta, set)
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		logger.Info("Archived run", zap.String("file", path), zap.String("id", id))
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
