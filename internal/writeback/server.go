package writeback

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/tasks"
)

// WorkerServer 封装写回 worker 的启动和关闭。
// asynq 自带指数退避重试：落库失败的任务会被重新调度，
// 重试期间缓存始终是实时会话的事实来源，持久层最终与之一致。
type WorkerServer struct {
	server   *asynq.Server
	handlers *Handlers
	log      *logrus.Entry
}

// NewWorkerServer 创建写回 worker。
func NewWorkerServer(redisOpt asynq.RedisClientOpt, handlers *Handlers, logger *logrus.Logger) *WorkerServer {
	if handlers == nil {
		panic("Handlers cannot be nil for WorkerServer")
	}
	logEntry := logger.WithField("component", "writeback_worker")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Writeback task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{server: server, handlers: handlers, log: logEntry}
}

// Start 运行 worker，应在单独的 goroutine 中调用。
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeObjectSave, ws.handlers.HandleObjectSave)
	mux.HandleFunc(tasks.TypeObjectDelete, ws.handlers.HandleObjectDelete)
	mux.HandleFunc(tasks.TypeProjectSave, ws.handlers.HandleProjectSave)
	mux.HandleFunc(tasks.TypeProjectDelete, ws.handlers.HandleProjectDelete)

	ws.log.Info("Writeback worker starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run writeback worker: %v", err)
		}
		ws.log.Info("Writeback worker stopped.")
	}
}

// Shutdown 优雅地关闭 worker，等待在途任务完成。
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down writeback worker...")
	ws.server.Shutdown()
	ws.log.Info("Writeback worker shut down complete.")
}
