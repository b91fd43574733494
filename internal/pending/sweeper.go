package pending

import (
	"context"
	"fmt"
	"time"

	"agendapro/agenda-api/internal/logger"

	"github.com/robfig/cron/v3"
)

// SweepJob removes expired records and repairs whatever referenced them.
type SweepJob func(ctx context.Context) (int, error)

type namedJob struct {
	name string
	run  SweepJob
}

// Sweeper runs SweepJobs on a cron schedule.
type Sweeper struct {
	cronEngine *cron.Cron
	spec       string
	timeout    time.Duration
	jobs       []namedJob
}

func NewSweeper(spec string, timeout time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Sweeper{
		cronEngine: cron.New(cron.WithLocation(time.UTC)),
		spec:       spec,
		timeout:    timeout,
	}
}

// Add registers a job. Call before Start.
func (s *Sweeper) Add(name string, job SweepJob) {
	s.jobs = append(s.jobs, namedJob{name: name, run: job})
}

// Start schedules the sweep. An invalid spec is returned, not fatal.
func (s *Sweeper) Start() error {
	_, err := s.cronEngine.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule pending sweep %q: %w", s.spec, err)
	}
	s.cronEngine.Start()
	logger.Log.Infof("Pending sweeper started (%s, %d jobs)", s.spec, len(s.jobs))
	return nil
}

// RunOnce runs every job once and returns how many records were swept.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	total := 0
	for _, job := range s.jobs {
		n, err := job.run(ctx)
		if err != nil {
			logger.Log.WithField("job", job.name).Errorf("Pending sweep failed: %v", err)
		}
		if n > 0 {
			logger.Log.WithField("job", job.name).Infof("Swept %d expired pending records", n)
		}
		total += n
	}
	return total
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	logger.Log.Info("Pending sweeper stopped")
}
