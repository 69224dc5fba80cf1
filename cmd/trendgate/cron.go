package main

import (
	"context"
	"time"

	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const checkpointTimeout = 30 * time.Second

type checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// checkpointJob 定期把身份会话写回存储
type checkpointJob struct {
	cron *cron.Cron
	log  *pkglog.LogHelper
}

// startCheckpointCron 启动会话持久化定时任务
// 默认每 5 分钟执行一次，只在会话有变更时写入
// Cron 表达式带秒字段：0 */5 * * * * （秒 分 时 日 月 周）
func startCheckpointCron(target checkpointer, spec string, logger log.Logger) *checkpointJob {
	helper := pkglog.NewLogHelper(logger)
	if spec == "" {
		helper.Scheduler("Session checkpoint disabled", "reason", "empty identity.checkpoint_spec")
		return nil
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
		defer cancel()

		if err := target.Checkpoint(ctx); err != nil {
			helper.Errorw("msg", "Session checkpoint failed", "error", err, "type", "scheduler")
			return
		}
		helper.Debugw("msg", "Session checkpoint completed", "type", "scheduler")
	})
	if err != nil {
		helper.Errorw("msg", "failed to register session checkpoint cron job", "spec", spec, "error", err)
		return nil
	}

	c.Start()
	helper.Scheduler("Session checkpoint cron job started", "spec", spec)
	return &checkpointJob{cron: c, log: helper}
}

// Stop waits for a running checkpoint to finish.
func (j *checkpointJob) Stop() {
	if j == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.log.Scheduler("Session checkpoint cron job stopped")
}
