package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and create the entity store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// setup has already written config.yaml when it was missing.
			s, err := a.openStore()
			if err != nil {
				return err
			}
			if err := s.Detach(); err != nil {
				return sysError(fmt.Errorf("finalize store: %w", err))
			}
			cfg, err := a.storeConfig()
			if err != nil {
				return sysError(err)
			}
			a.log.Info("initialized",
				zap.String("config_dir", a.configDir),
				zap.String("data_dir", cfg.DataDir),
				zap.String("backend", cfg.Backend))

			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return writeJSON(out, map[string]string{
					"config":   filepath.Join(a.configDir, configFileExt),
					"data_dir": cfg.DataDir,
					"backend":  cfg.Backend,
				})
			}
			fmt.Fprintf(out, "anon initialized\nconfig: %s\ndata:   %s (%s)\n",
				filepath.Join(a.configDir, configFileExt), cfg.DataDir, cfg.Backend)
			return nil
		},
	}
}
