package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/config"
)

// Task is one named unit of periodic work. It returns how many items it touched.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Job runs its tasks once on start and then on every tick.
type Job struct {
	name     string
	interval time.Duration
	tasks    []Task
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewJob(name string, interval time.Duration, tasks ...Task) *Job {
	return &Job{
		name:     name,
		interval: interval,
		tasks:    tasks,
		done:     make(chan struct{}),
	}
}

func (j *Job) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Str("job", j.name).Dur("interval", j.interval).Int("tasks", len(j.tasks)).Msg("job started")
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (j *Job) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Str("job", j.name).Msg("job stopped")
	})
}

func (j *Job) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runOnce()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.runOnce()
		}
	}
}

func (j *Job) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), config.JobRunTimeout)
	defer cancel()

	for _, task := range j.tasks {
		j.runTask(ctx, task)
	}
}

// runTask isolates one task so a failure or panic never stops the others.
func (j *Job) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", j.name).Str("task", task.Name).Interface("panic", r).Msg("job task panicked")
		}
	}()

	count, err := task.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("job", j.name).Msgf("failed to run %s", task.Name)
	} else if count > 0 {
		log.Info().Str("job", j.name).Int64("count", count).Msgf("processed %s", task.Name)
	}
}
