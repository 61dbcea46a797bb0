package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/tasks"
)

// Server 封装 asynq worker 的启动和关闭。
// 当前只承载周期性的房间回收任务；队列权重预留给将来的任务类型。
type Server struct {
	server *asynq.Server
	reaper *ReaperHandler
	log    *logrus.Entry
}

// NewServer 创建 worker 服务器。
func NewServer(redisOpt asynq.RedisClientOpt, reaper *ReaperHandler, logger *logrus.Logger) *Server {
	if reaper == nil {
		panic("reaper handler cannot be nil for worker Server")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logEntry := logger.WithField("component", "worker_server")

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
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &Server{
		server: server,
		reaper: reaper,
		log:    logEntry,
	}
}

// Start 运行 worker。应当在单独的 goroutine 中调用。
func (s *Server) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeRoomReap, s.reaper.ProcessTask)

	s.log.Info("Worker server starting...")
	if err := s.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			s.log.Fatalf("Could not run worker server: %v", err)
		}
		s.log.Info("Worker server stopped.")
	}
}

// Shutdown 优雅关闭 worker。
func (s *Server) Shutdown() {
	s.log.Info("Shutting down worker server...")
	s.server.Shutdown()
	s.log.Info("Worker server shut down complete.")
}
