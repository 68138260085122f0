package guestaccess

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Schedule runs repeating tasks grouped under a tag; Cancel stops every task
// carrying the tag.
type Schedule interface {
	Every(tag string, interval time.Duration, task func()) error
	Cancel(tag string)
}

// CronSchedule is the gocron-backed Schedule used outside tests.
type CronSchedule struct {
	scheduler gocron.Scheduler
}

func NewCronSchedule() (*CronSchedule, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.Start()
	return &CronSchedule{scheduler: s}, nil
}

func (c *CronSchedule) Every(tag string, interval time.Duration, task func()) error {
	_, err := c.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithTags(tag),
		// A slow poll must not pile up behind itself.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s every %s: %w", tag, interval, err)
	}
	return nil
}

func (c *CronSchedule) Cancel(tag string) {
	c.scheduler.RemoveByTags(tag)
}

func (c *CronSchedule) Shutdown() error {
	return c.scheduler.Shutdown()
}
