package aws_sqs

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/IliaW/page-guard/config"
	"github.com/IliaW/page-guard/internal/telemetry"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// queueAPI is the part of the sqs client the consumer needs.
type queueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput,
		optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput,
		optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// SQSWorker pulls browser events (model.Event JSON) queued by extensions that cannot hold a
// websocket open, and hands the raw bodies to the event workers.
type SQSWorker struct {
	client     queueAPI
	url        *string
	getSqsChan chan<- *string
	metrics    *telemetry.SQSMetrics
	cfg        *config.SQSConfig
	wg         *sync.WaitGroup
}

func NewSQSWorker(getSqsChan chan<- *string, metrics *telemetry.SQSMetrics, cfg *config.Config,
	wg *sync.WaitGroup) *SQSWorker {
	slog.Info("connecting to sqs...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to sqs.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	queueUrl, err := c.GetQueueUrl(context.Background(), &sqs.GetQueueUrlInput{QueueName: &cfg.SQSSettings.QueueName})
	if err != nil {
		slog.Error("failed to get queue url.", slog.String("err", err.Error()),
			slog.String("queue_name", cfg.SQSSettings.QueueName))
		os.Exit(1)
	}

	return newSQSWorker(c, queueUrl.QueueUrl, getSqsChan, metrics, cfg.SQSSettings, wg)
}

func newSQSWorker(client queueAPI, url *string, getSqsChan chan<- *string, metrics *telemetry.SQSMetrics,
	cfg *config.SQSConfig, wg *sync.WaitGroup) *SQSWorker {
	return &SQSWorker{
		client:     client,
		url:        url,
		getSqsChan: getSqsChan,
		metrics:    metrics,
		cfg:        cfg,
		wg:         wg,
	}
}

// SQSConsumer receives until ctx is cancelled, then closes getSqsChan.
// Messages are deleted once they are handed over; a failed event goes to the DLQ, not back to the queue.
func (w *SQSWorker) SQSConsumer(ctx context.Context) {
	defer w.wg.Done()
	slog.Info("starting sqs consumer...", slog.String("queue_url", *w.url))

	getInput := &sqs.ReceiveMessageInput{
		QueueUrl:            w.url,
		MaxNumberOfMessages: w.cfg.MaxNumberOfMessages,
		WaitTimeSeconds:     w.cfg.WaitTimeSeconds,
		VisibilityTimeout:   w.cfg.VisibilityTimeout,
	}
	deleteInput := &sqs.DeleteMessageBatchInput{
		QueueUrl: w.url,
		Entries:  nil,
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping sqs consumer...")
			close(w.getSqsChan)
			slog.Info("close getSqsChan.")
			return
		default:
			output, err := w.client.ReceiveMessage(ctx, getInput)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("failed to receive message from sqs.", slog.String("err", err.Error()))
				}
				continue
			}
			if len(output.Messages) == 0 {
				slog.Debug("no messages received from sqs.")
				continue
			}

			entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(output.Messages))
			for _, m := range output.Messages {
				if m.Body != nil {
					w.getSqsChan <- m.Body
				}
				entries = append(entries, types.DeleteMessageBatchRequestEntry{
					Id:            m.MessageId,
					ReceiptHandle: m.ReceiptHandle,
				})
			}
			deleteInput.Entries = entries
			slog.Debug("deleting messages from sqs.", slog.Int("size", len(entries)))
			_, err = w.client.DeleteMessageBatch(context.Background(), deleteInput)
			if err != nil {
				slog.Error("failed to delete messages from sqs.", slog.String("err", err.Error()))
				w.metrics.FailMsgCnt(int64(len(entries))) // messages still can be processed
			} else {
				w.metrics.SuccessMsgCnt(int64(len(entries)))
			}
		}
	}
}

func connect(cfg *config.Config) (*sqs.Client, error) {
	sqsConfig, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.SQSSettings.Region))
	if err != nil {
		slog.Error("failed to load sqs config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		sqsConfig.BaseEndpoint = &cfg.SQSSettings.AwsBaseEndpoint // for LocalStack
		sqsConfig.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
	}

	return sqs.NewFromConfig(sqsConfig), nil
}
