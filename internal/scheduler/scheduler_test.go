package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zonedesk/ingest/internal/bus"
	"github.com/zonedesk/ingest/internal/clock/system"
	"github.com/zonedesk/ingest/internal/extractor"
	"github.com/zonedesk/ingest/internal/id/uuid"
	"github.com/zonedesk/ingest/internal/orchestrator"
	"github.com/zonedesk/ingest/internal/pipeline"
	repomemory "github.com/zonedesk/ingest/internal/repository/memory"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	return pipeline.FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       []byte(`<html><h1>DMCC</h1></html>`),
	}, nil
}

// eventCounter tallies lifecycle events seen on the bus.
type eventCounter struct {
	mu     sync.Mutex
	byType map[string]int
	jobIDs []string
}

func (c *eventCounter) handle(evt pipeline.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[evt.Type]++
	if id, ok := evt.Payload["job_id"].(string); ok {
		c.jobIDs = append(c.jobIDs, id)
	}
}

func (c *eventCounter) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byType[eventType]
}

func (c *eventCounter) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.jobIDs))
	copy(out, c.jobIDs)
	return out
}

func newTestScheduler(t *testing.T) (*Scheduler, *eventCounter) {
	t.Helper()
	evtBus := bus.New(bus.Config{})
	t.Cleanup(evtBus.Close)

	counter := &eventCounter{byType: make(map[string]int)}
	evtBus.Subscribe(pipeline.EventJobCompleted, counter.handle)
	evtBus.Subscribe(pipeline.EventJobFailed, counter.handle)

	orch := orchestrator.New(
		stubFetcher{},
		extractor.NewRegistry(),
		nil,
		repomemory.New(),
		evtBus,
		nil,
		system.New(),
		uuid.NewGenerator(),
		orchestrator.Config{},
		nil,
	)
	t.Cleanup(orch.Close)

	s := New(orch, time.Second, nil)
	t.Cleanup(s.Stop)
	return s, counter
}

// TestScheduleAcceptsCronSpecs verifies five-field cron expressions register
// and return distinct entry ids.
func TestScheduleAcceptsCronSpecs(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	target := []pipeline.Target{{URL: "https://zones.test/dmcc", Schema: "freezone-profile"}}

	id1, err := s.Schedule(pipeline.KindSiteCrawl, target, "0 3 * * *")
	require.NoError(t, err)
	id2, err := s.Schedule(pipeline.KindActivityScan, target, "*/30 * * * *")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	s.Remove(id1)
}

// TestScheduleRejectsManualAndGarbage verifies only real cron expressions
// become recurring entries.
func TestScheduleRejectsManualAndGarbage(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	target := []pipeline.Target{{URL: "https://zones.test/dmcc", Schema: "freezone-profile"}}

	var ve *pipeline.ValidationError
	_, err := s.Schedule(pipeline.KindSiteCrawl, target, "manual")
	require.True(t, errors.As(err, &ve))

	_, err = s.Schedule(pipeline.KindSiteCrawl, target, "whenever")
	require.True(t, errors.As(err, &ve))
}

// TestTickSubmitsAndRuns verifies each tick produces an independent job that
// runs to completion.
func TestTickSubmitsAndRuns(t *testing.T) {
	t.Parallel()

	s, counter := newTestScheduler(t)
	target := []pipeline.Target{{URL: "https://zones.test/dmcc", Schema: "freezone-profile", Mandatory: true}}

	s.tick(pipeline.KindSiteCrawl, target, "0 3 * * *")
	s.tick(pipeline.KindSiteCrawl, target, "0 3 * * *")

	require.Eventually(t, func() bool {
		return counter.count(pipeline.EventJobCompleted) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ids := counter.ids()
	require.Len(t, ids, 2)
	require.NotEqual(t, ids[0], ids[1])
	require.Zero(t, counter.count(pipeline.EventJobFailed))
}

// TestTickSwallowsSubmissionErrors verifies a broken template logs instead
// of panicking the cron goroutine.
func TestTickSwallowsSubmissionErrors(t *testing.T) {
	t.Parallel()

	s, counter := newTestScheduler(t)
	s.tick(pipeline.KindSiteCrawl, nil, "0 3 * * *")

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, counter.count(pipeline.EventJobCompleted))
	require.Zero(t, counter.count(pipeline.EventJobFailed))
}
