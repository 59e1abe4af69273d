package limits

import (
	"fmt"
	"time"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

var windowLengths = map[model.TimeFrame]time.Duration{
	model.TimeFrameDaily:   24 * time.Hour,
	model.TimeFrameWeekly:  7 * 24 * time.Hour,
	model.TimeFrameMonthly: 30 * 24 * time.Hour,
}

// RollingWindowStart returns the start of the window ending at now. Windows
// are relative to the instant of the check, never calendar aligned.
func RollingWindowStart(tf model.TimeFrame, now time.Time) (time.Time, error) {
	d, ok := windowLengths[tf]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown time frame %q", tf)
	}
	return now.Add(-d), nil
}
