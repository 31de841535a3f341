package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferload/inferload/internal/config"
	"github.com/inferload/inferload/internal/runtime"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush the KV caches of already-running runtimes",
	Long: `Issues a cache-flush call to every runtime in the config. Only URL-backed
runtimes can be flushed without provisioning; configs that would spawn
servers are rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return flushCaches(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
}

func flushCaches(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, g := range cfg.GPUs {
		if g.URL == "" {
			return fmt.Errorf("gpu %d has no url; flush only works against running servers", g.DeviceID)
		}
	}

	reg := runtime.NewRegistry(cfg.ModelPath)
	if err := reg.Provision(ctx, cfg.GPUs, runtime.ProvisionOptions{}); err != nil {
		return err
	}
	reg.FlushCaches(ctx)
	return nil
}
