package enforcer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReloadChannel carries the instance id of the replica that just persisted
// a mutation.
const ReloadChannel = "bosun:policy:changed"

// Loader is satisfied by *Engine.
type Loader interface {
	Load(ctx context.Context) error
}

// Reloader fans snapshot changes out to other replicas over Redis pub/sub.
// With a nil client every method is a no-op.
type Reloader struct {
	rdb      *redis.Client
	log      *zap.SugaredLogger
	instance string
}

func NewReloader(rdb *redis.Client, log *zap.SugaredLogger) *Reloader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reloader{rdb: rdb, log: log, instance: uuid.NewString()}
}

func (r *Reloader) Instance() string { return r.instance }

// Notify publishes this replica's id. Failures are logged and dropped.
func (r *Reloader) Notify(ctx context.Context) {
	if r == nil || r.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, ReloadChannel, r.instance).Err(); err != nil {
		r.log.Warnw("publish policy change", "err", err)
	}
}

// Run reloads l whenever another replica announces a change. It blocks
// until ctx is done.
func (r *Reloader) Run(ctx context.Context, l Loader) error {
	if r == nil || r.rdb == nil {
		<-ctx.Done()
		return nil
	}
	sub := r.rdb.Subscribe(ctx, ReloadChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.Infow("policy reload listener ready", "channel", ReloadChannel, "instance", r.instance)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, l, msg.Payload)
		}
	}
}

func (r *Reloader) handle(ctx context.Context, l Loader, origin string) {
	if origin == r.instance {
		return
	}
	if err := l.Load(ctx); err != nil {
		r.log.Errorw("policy reload failed", "origin", origin, "err", err)
		return
	}
	r.log.Infow("policy snapshot reloaded", "origin", origin)
}
