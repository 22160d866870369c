package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pixcache/internal/core/port"
	"pixcache/internal/metrics"
)

const persistTimeout = 30 * time.Second

type persistJob struct {
	key         string
	data        []byte
	contentType string
}

// Persister writes freshly derived renditions to the object store after
// the response has already been sent. Jobs are detached from request
// lifetimes: a client disconnect never cancels an in-flight write.
// Failures are logged and counted, never surfaced to a request. A full
// queue drops the job — the rendition is simply re-derived on the next
// miss.
type Persister struct {
	store   port.ObjectStore
	jobs    chan persistJob
	workers sync.WaitGroup
	pending sync.WaitGroup
}

func NewPersister(store port.ObjectStore, workers, queueSize int) *Persister {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Persister{
		store: store,
		jobs:  make(chan persistJob, queueSize),
	}

	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.work()
	}

	return p
}

func (p *Persister) work() {
	defer p.workers.Done()

	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := p.store.Put(ctx, job.key, job.data, job.contentType); err != nil {
			metrics.PersistFailures.Inc()
			log.Error().Err(err).Str("key", job.key).Msg("background persist failed")
		} else {
			log.Debug().Str("key", job.key).Int("bytes", len(job.data)).Msg("persisted rendition")
		}
		cancel()
		p.pending.Done()
	}
}

// Enqueue submits a rendition write without blocking the caller.
func (p *Persister) Enqueue(key string, data []byte, contentType string) {
	p.pending.Add(1)
	select {
	case p.jobs <- persistJob{key: key, data: data, contentType: contentType}:
	default:
		p.pending.Done()
		metrics.PersistDropped.Inc()
		log.Warn().Str("key", key).Msg("persist queue full, dropping rendition write")
	}
}

// Flush blocks until every enqueued job has been processed.
func (p *Persister) Flush() {
	p.pending.Wait()
}

// Close drains the queue and stops the workers.
func (p *Persister) Close() {
	p.pending.Wait()
	close(p.jobs)
	p.workers.Wait()
}
