package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/config"
	"github.com/canvaschat/canvaschat/internal/log"
	"github.com/canvaschat/canvaschat/internal/storage"
)

var canvasesCmd = &cobra.Command{
	Use:   "canvases",
	Short: "List stored canvases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		db, err := storage.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		if err := storage.Migrate(db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		store := canvas.New(db, log.NewNop())
		canvases, err := store.Canvases(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing canvases: %w", err)
		}

		if len(canvases) == 0 {
			cmd.Println("no canvases")
			return nil
		}
		for _, cv := range canvases {
			split := " "
			if cv.SplitMode {
				split = "S"
			}
			cmd.Printf("%s  [%s]  %s  (updated %s)\n",
				cv.ID, split, cv.Name, cv.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(canvasesCmd)
}
