package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/estisync/internal/client/config"
)

// NewRootCmd builds the command tree. Configuration flags are persistent so
// every subcommand accepts them.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "estisync",
		Short:         "estisync keeps a local estimate database in sync with the cloud",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newBootstrapCmd(),
		newSyncCmd(),
		newPhotosCmd(),
		newWatchCmd(),
		newSaveCmd(),
		newDeleteCmd(),
		newEnqueueCmd(),
		newListCmd(),
		newStatusCmd(),
		newClearCmd(),
	)
	return root
}

// Execute runs the command tree against the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// withApp loads the configuration from cmd's flags, builds an App, runs fn
// and closes the App.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
