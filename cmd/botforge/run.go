package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"botforge/internal/deploy"
)

var (
	runDetach bool
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Run the full pipeline once and print the result",
	Long: `run classifies the message, generates and bundles the application and
deploys it. Unless --detach is given it keeps the services up until
interrupted, then stops them.`,
	Args: cobra.MinimumNArgs(1),
}

// runRunE is assigned in init to avoid an initialization cycle between
// runCmd and printJSON.
func runRunE(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	message := strings.Join(args, " ")
	if message == "-" {
		data, err := readAll(cmd)
		if err != nil {
			return err
		}
		message = data
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	res, runErr := a.pipeline.RunFullPipelineWithID(ctx, uuid.New().String(), message)
	if err := printJSON(cmd, res); err != nil {
		a.shutdown(ctx)
		return err
	}
	if runErr != nil {
		a.shutdown(ctx)
		return runErr
	}
	if res.Deployment == nil || runDetach {
		a.close()
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "services running, press Ctrl+C to stop\n")
	waitForSignal()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.shutdown(stopCtx)
	return nil
}

var deployCmd = &cobra.Command{
	Use:   "deploy <project_dir>",
	Short: "Deploy an existing bundle and keep it running until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		rec, err := a.pipeline.DeployProject(ctx, args[0])
		if err != nil {
			a.close()
			return err
		}
		if err := printJSON(cmd, rec); err != nil {
			a.shutdown(ctx)
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "services running, press Ctrl+C to stop\n")
		waitForSignal()

		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.shutdown(stopCtx)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Free the deployment ports by terminating whatever listens on them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rec := deploy.NewReconciler(deploy.NewSystemProcessTable(), cfg.ServiceSignature)

		var reports []*deploy.ReconcileReport
		var firstErr error
		for _, port := range []int{cfg.BackendPort, cfg.FrontendPort} {
			report, err := rec.Reconcile(ctx, port)
			if report != nil {
				reports = append(reports, report)
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := printJSON(cmd, reports); err != nil {
			return err
		}
		return firstErr
	},
}

func init() {
	runCmd.RunE = runRunE
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "exit after deploying and leave the services running")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "also write the JSON result to this file")
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	if cmd == runCmd && runOutput != "" {
		return os.WriteFile(runOutput, data, 0o644)
	}
	return nil
}

func readAll(cmd *cobra.Command) (string, error) {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("no message on stdin")
	}
	return string(data), nil
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)
}
