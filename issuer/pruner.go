package issuer

import (
	"log"
	"time"

	"github.com/ourlibrary/ourlibrary/database/tokens"
	"github.com/robfig/cron/v3"
)

// DefaultRedemptionRetention 去重记录保留时长，需远大于客户端重试窗口
const DefaultRedemptionRetention = 7 * 24 * time.Hour

// StartRedemptionPruner 按 cron 表达式定期清理过期的去重记录，返回的 cron 需由调用方 Stop
func StartRedemptionPruner(schedule string, retention time.Duration) (*cron.Cron, error) {
	if schedule == "" {
		schedule = "@hourly"
	}
	if retention <= 0 {
		retention = DefaultRedemptionRetention
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		PruneRedemptions(retention)
	}); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func PruneRedemptions(retention time.Duration) {
	n, err := tokens.PruneRedemptions(time.Now().Add(-retention))
	if err != nil {
		log.Printf("prune redemptions failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("pruned %d redemption records", n)
	}
}
