package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// TaskHeaderToken carries the shared secret on queue callbacks.
const TaskHeaderToken = "X-Task-Token"

type CloudTasksConfig struct {
	ProjectID           string
	Location            string
	Queue               string
	CallbackURL         string
	CallbackToken       string
	ServiceAccountEmail string
	MaxAttempts         int32
	MinBackoff          time.Duration
	MaxBackoff          time.Duration
	MaxDispatchesPerSec float64
	MaxConcurrent       int32
}

func (c CloudTasksConfig) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.ProjectID, c.Location)
}

func (c CloudTasksConfig) queuePath() string {
	return c.parent() + "/queues/" + c.Queue
}

// tasksAPI is the part of the Cloud Tasks client used here.
type tasksAPI interface {
	CreateQueue(ctx context.Context, req *cloudtaskspb.CreateQueueRequest, opts ...gax.CallOption) (*cloudtaskspb.Queue, error)
	CreateTask(ctx context.Context, req *cloudtaskspb.CreateTaskRequest, opts ...gax.CallOption) (*cloudtaskspb.Task, error)
}

// CloudTasksQueue enqueues HTTP tasks that post back to the refinement
// task endpoint. Delivery retries are configured on the queue itself.
type CloudTasksQueue struct {
	api    tasksAPI
	closer func() error
	cfg    CloudTasksConfig
	logger *slog.Logger
}

func NewCloudTasksQueue(ctx context.Context, cfg CloudTasksConfig, logger *slog.Logger) (*CloudTasksQueue, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloud tasks client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &CloudTasksQueue{api: client, closer: client.Close, cfg: cfg, logger: logger}
	return q, nil
}

// EnsureQueue creates the queue with its retry and rate limits if it does
// not exist yet.
func (q *CloudTasksQueue) EnsureQueue(ctx context.Context) error {
	_, err := q.api.CreateQueue(ctx, &cloudtaskspb.CreateQueueRequest{
		Parent: q.cfg.parent(),
		Queue: &cloudtaskspb.Queue{
			Name: q.cfg.queuePath(),
			RateLimits: &cloudtaskspb.RateLimits{
				MaxDispatchesPerSecond:  q.cfg.MaxDispatchesPerSec,
				MaxConcurrentDispatches: q.cfg.MaxConcurrent,
			},
			RetryConfig: &cloudtaskspb.RetryConfig{
				MaxAttempts: q.cfg.MaxAttempts,
				MinBackoff:  durationpb.New(q.cfg.MinBackoff),
				MaxBackoff:  durationpb.New(q.cfg.MaxBackoff),
			},
		},
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			q.logger.Info("tasks.queue.exists", "queue", q.cfg.queuePath())
			return nil
		}
		return fmt.Errorf("create queue: %w", err)
	}
	q.logger.Info("tasks.queue.created", "queue", q.cfg.queuePath())
	return nil
}

func (q *CloudTasksQueue) Enqueue(ctx context.Context, jobID string, payload []byte) (string, error) {
	req := &cloudtaskspb.HttpRequest{
		HttpMethod: cloudtaskspb.HttpMethod_POST,
		Url:        q.cfg.CallbackURL,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       payload,
	}
	if q.cfg.CallbackToken != "" {
		req.Headers[TaskHeaderToken] = q.cfg.CallbackToken
	}
	if q.cfg.ServiceAccountEmail != "" {
		req.AuthorizationHeader = &cloudtaskspb.HttpRequest_OidcToken{
			OidcToken: &cloudtaskspb.OidcToken{ServiceAccountEmail: q.cfg.ServiceAccountEmail},
		}
	}

	task, err := q.api.CreateTask(ctx, &cloudtaskspb.CreateTaskRequest{
		Parent: q.cfg.queuePath(),
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{HttpRequest: req},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create task for %s: %w", jobID, err)
	}
	q.logger.Info("tasks.enqueued", "job_id", jobID, "task", task.GetName())
	return task.GetName(), nil
}

func (q *CloudTasksQueue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}
