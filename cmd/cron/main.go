// cmd/cron runs one cron reconciliation sweep and exits (spec.md §4.F),
// matching the Lambda-style "short-lived handler" framing: an operator
// schedules this binary (systemd timer, cron, Kubernetes CronJob — the
// scheduler itself is out of scope) and it rescues any request whose
// per-task progress check never fired.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/spf13/cobra"

	"github.com/bkyoung/review-orchestrator/internal/adapter/awsconfig"
	snsnotify "github.com/bkyoung/review-orchestrator/internal/adapter/notify/sns"
	"github.com/bkyoung/review-orchestrator/internal/adapter/observability"
	"github.com/bkyoung/review-orchestrator/internal/adapter/scm/github"
	"github.com/bkyoung/review-orchestrator/internal/adapter/scm/gitlab"
	ddbstore "github.com/bkyoung/review-orchestrator/internal/adapter/store/dynamodb"
	blobs3 "github.com/bkyoung/review-orchestrator/internal/adapter/blob/s3"
	"github.com/bkyoung/review-orchestrator/internal/config"
	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
	"github.com/bkyoung/review-orchestrator/internal/reconciler"
)

func main() {
	if err := run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var configPath string

	root := &cobra.Command{
		Use:   "cron",
		Short: "Run one reconciliation sweep over stuck review requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoaderOptions{
				ConfigPaths: defaultConfigPaths(configPath),
				FileName:    "review-orchestrator",
			})
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			return sweepOnce(ctx, cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "directory holding review-orchestrator.yaml (defaults to . and $HOME/.config/review-orchestrator)")

	return root.ExecuteContext(ctx)
}

func sweepOnce(ctx context.Context, cfg config.Config) error {
	awsCfg, err := awsconfig.LoadDefault(ctx)
	if err != nil {
		return err
	}

	logger := observability.NewStdLogger()

	ddb := dynamodb.NewFromConfig(awsCfg)
	requests := ddbstore.NewRequestStore(ddb, cfg.RequestTable)
	tasks := ddbstore.NewTaskStore(ddb, cfg.TaskTable)

	s3Client := s3.NewFromConfig(awsCfg)
	presignClient := s3.NewPresignClient(s3Client)
	blobs := blobs3.NewStore(s3Client, presignClient, cfg.BucketName)

	snsClient := sns.NewFromConfig(awsCfg)
	notifier := snsnotify.NewNotifier(snsClient, cfg.SNSTopicARN)

	scms := map[domain.Source]port.SourceControl{
		domain.SourceGitHub: github.NewClient(cfg.AccessToken),
		domain.SourceGitLab: gitlab.NewClient(cfg.AccessToken),
	}

	recon := reconciler.New(requests, tasks, blobs, notifier, scms, logger)

	errs := recon.Sweep(ctx, cfg.ReportTimeout())
	for _, e := range errs {
		logger.LogWarning("sweep item failed", "err", e.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("sweep completed with %d failed record(s)", len(errs))
	}
	return nil
}

func defaultConfigPaths(override string) []string {
	if override != "" {
		return []string{override}
	}
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "review-orchestrator"))
	}
	return paths
}
