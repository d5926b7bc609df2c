package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/component-base/featuregate"
	logsapi "k8s.io/component-base/logs/api/v1"

	"go.wharfapis.com/wharf/internal/controller"
	"go.wharfapis.com/wharf/internal/version"

	// Register JSON logging format
	_ "k8s.io/component-base/logs/json/register"
)

// Process exit codes. A reconciler panic gets its own code so supervisors
// can distinguish a crash from an ordinary startup failure.
const (
	exitOK             = 0
	exitError          = 1
	exitReconcilePanic = 2
)

var featureGate = featuregate.NewFeatureGate()

func init() {
	utilruntime.Must(logsapi.AddFeatureGates(featureGate))
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := NewWharfCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, controller.ErrReconcilePanic) {
			return exitReconcilePanic
		}
		return exitError
	}
	return exitOK
}

// NewWharfCommand creates the root command with its subcommands.
func NewWharfCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wharf",
		Short: "Wharf - declarative resource runtime",
		Long: `Wharf reconciles declaratively stored resources toward their desired
state and enforces access-control policy compiled from the same store.

Resources live in CouchDB; controllers follow the change feed and converge
each document, and the authorizer hot-reloads its model as policy documents
change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewControllerManagerCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version subcommand to display build information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Printf("Wharf\n")
			fmt.Printf("  Version:       %s\n", info.Version)
			fmt.Printf("  Git Commit:    %s\n", info.GitCommit)
			fmt.Printf("  Git Tree:      %s\n", info.GitTreeState)
			fmt.Printf("  Build Date:    %s\n", info.BuildDate)
			fmt.Printf("  Go Version:    %s\n", info.GoVersion)
			fmt.Printf("  Go Compiler:   %s\n", info.Compiler)
			fmt.Printf("  Platform:      %s\n", info.Platform)
		},
	}
}
