package job

import (
	"fmt"
	"time"

	"github.com/robfig/cron"
)

// Every registers fn on c to run at a fixed interval.
func Every(c *cron.Cron, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid cron interval %s", interval)
	}
	return c.AddFunc(fmt.Sprintf("@every %s", interval), fn)
}
