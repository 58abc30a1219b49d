package chat

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/domain/models"
)

// JobKind selects what a worker does with a job.
type JobKind string

const (
	// JobInbound routes a conversation and runs the AI gate for MessageID.
	JobInbound JobKind = "inbound"
	// JobDeliver sends MessageID through the outbound channel.
	JobDeliver JobKind = "deliver"
)

// Job is one unit of asynchronous work for a conversation.
type Job struct {
	Kind           JobKind
	TenantID       string
	ConversationID string
	MessageID      string
	Hints          models.RoutingHints
	EnqueuedAt     time.Time
}

// JobHandler processes a job. Errors are logged by the queue.
type JobHandler func(ctx context.Context, job *Job) error

// JobQueue runs jobs on a fixed set of workers. Jobs of one conversation
// always land on the same worker so they run in enqueue order.
type JobQueue struct {
	shards  []chan *Job
	handler JobHandler
	logger  zerolog.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewJobQueue creates a queue with workers shards of size buffered slots each.
func NewJobQueue(workers, size int, handler JobHandler, logger zerolog.Logger) *JobQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		shards:  make([]chan *Job, workers),
		handler: handler,
		logger:  logger.With().Str("component", "chat.queue").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range q.shards {
		q.shards[i] = make(chan *Job, size)
	}
	return q
}

// Start starts one worker per shard.
func (q *JobQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return
	}
	q.started = true

	for _, shard := range q.shards {
		q.wg.Add(1)
		go q.worker(shard)
	}
}

func (q *JobQueue) worker(jobs <-chan *Job) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			q.run(job)
		}
	}
}

func (q *JobQueue) run(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Str("kind", string(job.Kind)).Str("conversationId", job.ConversationID).Msg("job panicked")
		}
	}()

	if err := q.handler(q.ctx, job); err != nil {
		q.logger.Warn().Err(err).
			Str("kind", string(job.Kind)).
			Str("tenantId", job.TenantID).
			Str("conversationId", job.ConversationID).
			Dur("queued", time.Since(job.EnqueuedAt)).
			Msg("job failed")
	}
}

// Enqueue adds a job without blocking. It returns false when the shard is
// full or the queue is stopped.
func (q *JobQueue) Enqueue(job *Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return false
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case q.shards[q.shardFor(job)] <- job:
		return true
	default:
		q.logger.Warn().Str("kind", string(job.Kind)).Str("conversationId", job.ConversationID).Msg("job queue full, dropping job")
		return false
	}
}

func (q *JobQueue) shardFor(job *Job) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(job.TenantID))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(job.ConversationID))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Stop cancels running jobs and waits for the workers to exit. Queued jobs
// are discarded.
func (q *JobQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	for _, shard := range q.shards {
		close(shard)
	}
	q.wg.Wait()
}

// Len returns the number of queued jobs.
func (q *JobQueue) Len() int {
	n := 0
	for _, shard := range q.shards {
		n += len(shard)
	}
	return n
}
