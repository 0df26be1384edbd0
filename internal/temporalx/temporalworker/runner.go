package temporalworker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/spriteforge/spriteforge-backend/internal/clients/openai"
	"github.com/spriteforge/spriteforge-backend/internal/platform/envutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/tasks"
	"github.com/spriteforge/spriteforge-backend/internal/temporalx"
	"github.com/spriteforge/spriteforge-backend/internal/temporalx/genrun"
)

// Runner hosts the generation workflow and its activities on the task queue.
type Runner struct {
	log *logger.Logger

	tc       temporalsdkclient.Client
	provider openai.ImageProvider
	media    genrun.MediaStore
	sink     tasks.Callbacks
}

func NewRunner(
	log *logger.Logger,
	tc temporalsdkclient.Client,
	provider openai.ImageProvider,
	media genrun.MediaStore,
	sink tasks.Callbacks,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if provider == nil || media == nil || sink == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{
		log:      log,
		tc:       tc,
		provider: provider,
		media:    media,
		sink:     sink,
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	maxWait := envutil.DurationSeconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60*time.Second)
	backoff := 250 * time.Millisecond
	backoffMax := 5 * time.Second

	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					w.Stop()
				}()
			}
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}

		// Ensure worker goroutines are stopped before the next attempt.
		w.Stop()

		if maxWait <= 0 || time.Now().After(deadline) {
			return startErr
		}

		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		}

		sleep := clampBackoff(backoff, backoffMax, attempt)
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &genrun.Activities{
		Log:      r.log,
		Provider: r.provider,
		Media:    r.media,
		Sink:     r.sink,
	}

	w.RegisterWorkflowWithOptions(genrun.Workflow, workflow.RegisterOptions{Name: genrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Generate, activity.RegisterOptions{Name: genrun.ActivityGenerate})
	w.RegisterActivityWithOptions(acts.Deliver, activity.RegisterOptions{Name: genrun.ActivityDeliver})
	return w
}

func clampBackoff(base time.Duration, max time.Duration, attempt int) time.Duration {
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if sleep >= max {
			return max
		}
	}
	if sleep > max {
		return max
	}
	return sleep
}
