package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/model"
)

// Publisher delivers job events to an external bus
type Publisher interface {
	Publish(ctx context.Context, event model.JobEvent) error
}

// Subscribers receives job updates for connected clients
type Subscribers interface {
	BroadcastJob(job *model.Job)
}

// Broadcaster notifies websocket subscribers and the event bus about job
// transitions. Either side may be nil. Delivery is best effort and never
// fails the transition that triggered it.
type Broadcaster struct {
	subscribers Subscribers
	publisher   Publisher
	log         zerolog.Logger
}

func NewBroadcaster(subscribers Subscribers, publisher Publisher, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: subscribers,
		publisher:   publisher,
		log:         log.With().Str("component", "events").Logger(),
	}
}

// JobUpdated fans out the job's current state
func (b *Broadcaster) JobUpdated(ctx context.Context, job *model.Job) {
	if b.subscribers != nil {
		b.subscribers.BroadcastJob(job)
	}
	if b.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := b.publisher.Publish(ctx, model.NewJobEvent(job)); err != nil {
		b.log.Warn().Err(err).Str("job_id", job.ID).Str("status", string(job.Status)).Msg("failed to publish job event")
	}
}
