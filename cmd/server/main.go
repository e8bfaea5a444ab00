// cmd/server hosts the Ingress/result-check HTTP surface (spec.md §6) and
// the Executor's queue-consumer loop side by side in one long-running
// process, since no real Lambda/SQS-trigger runtime backs this module —
// mirrors the teacher's graceful-shutdown signal-context pattern.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/bkyoung/review-orchestrator/internal/adapter/awsconfig"
	blobs3 "github.com/bkyoung/review-orchestrator/internal/adapter/blob/s3"
	"github.com/bkyoung/review-orchestrator/internal/adapter/llm/bedrock"
	snsnotify "github.com/bkyoung/review-orchestrator/internal/adapter/notify/sns"
	"github.com/bkyoung/review-orchestrator/internal/adapter/observability"
	sqsqueue "github.com/bkyoung/review-orchestrator/internal/adapter/queue/sqs"
	"github.com/bkyoung/review-orchestrator/internal/adapter/scm/github"
	"github.com/bkyoung/review-orchestrator/internal/adapter/scm/gitlab"
	ddbstore "github.com/bkyoung/review-orchestrator/internal/adapter/store/dynamodb"
	"github.com/bkyoung/review-orchestrator/internal/config"
	"github.com/bkyoung/review-orchestrator/internal/dispatcher"
	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/executor"
	"github.com/bkyoung/review-orchestrator/internal/httpapi"
	"github.com/bkyoung/review-orchestrator/internal/port"
	"github.com/bkyoung/review-orchestrator/internal/reconciler"
	"github.com/bkyoung/review-orchestrator/internal/rulestore"
	"github.com/bkyoung/review-orchestrator/internal/worker"
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
	var addr string

	root := &cobra.Command{
		Use:   "server",
		Short: "Run the code-review orchestrator's HTTP ingress and task worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoaderOptions{
				ConfigPaths: defaultConfigPaths(configPath),
				FileName:    "review-orchestrator",
			})
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			if addr != "" {
				cfg.ServerAddr = addr
			}
			return serve(ctx, cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "directory holding review-orchestrator.yaml (defaults to . and $HOME/.config/review-orchestrator)")
	root.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides SERVER_ADDR / config file)")

	return root.ExecuteContext(ctx)
}

func serve(ctx context.Context, cfg config.Config) error {
	awsCfg, err := awsconfig.LoadDefault(ctx)
	if err != nil {
		return err
	}
	bedrockCfg, err := awsconfig.LoadBedrock(ctx, awsconfig.BedrockOptions{
		AccessKey: cfg.BedrockAccessKey, SecretKey: cfg.BedrockSecretKey, Region: cfg.BedrockRegion,
	})
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

	sqsClient := sqs.NewFromConfig(awsCfg)
	queue := sqsqueue.NewQueue(sqsClient, cfg.TaskSQSURL)

	snsClient := sns.NewFromConfig(awsCfg)
	notifier := snsnotify.NewNotifier(snsClient, cfg.SNSTopicARN)

	bedrockClient := bedrockruntime.NewFromConfig(bedrockCfg)
	llm := bedrock.NewClient(bedrockClient, cfg.MaxTokenToSample, cfg.TopP, cfg.Temperature)

	ghClient := github.NewClient(cfg.AccessToken)
	glClient := gitlab.NewClient(cfg.AccessToken)
	scms := map[domain.Source]port.SourceControl{
		domain.SourceGitHub: ghClient,
		domain.SourceGitLab: glClient,
	}

	recon := reconciler.New(requests, tasks, blobs, notifier, scms, logger)
	exec := executor.New(llm, tasks, requests, blobs, recon, cfg, logger)

	dispatchers := make(map[domain.Source]*dispatcher.Dispatcher, len(scms))
	for source, scm := range scms {
		rules := rulestore.New(scm)
		dispatchers[source] = dispatcher.New(scm, requests, queue, rules, recon, logger)
	}

	h := &httpapi.Handler{
		SCMs:         scms,
		Dispatchers:  dispatchers,
		Requests:     requests,
		Tasks:        tasks,
		Blobs:        blobs,
		Logger:       logger,
		DefaultMode:  cfg.DefaultMode,
		DefaultModel: cfg.DefaultModel,
	}
	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewRouter(h))

	runner := worker.New(queueAdapter{queue}, exec, logger)
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(ctx)
	}()

	srv := &http.Server{Addr: cfg.ServerAddr, Handler: mux}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return <-srvErr
	case err := <-srvErr:
		return err
	case err := <-workerErr:
		return err
	}
}

// queueAdapter narrows *sqsqueue.Queue's Receive to worker.Queue's shape.
type queueAdapter struct{ q *sqsqueue.Queue }

func (a queueAdapter) Receive(ctx context.Context, max int32) ([]worker.Message, error) {
	msgs, err := a.q.Receive(ctx, max)
	if err != nil {
		return nil, err
	}
	out := make([]worker.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, worker.Message{Body: m.Body, ReceiptHandle: m.ReceiptHandle})
	}
	return out, nil
}

func (a queueAdapter) Delete(ctx context.Context, receiptHandle string) error {
	return a.q.Delete(ctx, receiptHandle)
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
