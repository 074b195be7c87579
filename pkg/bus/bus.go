// Package bus implements a keyed publish/subscribe bus. It is the hand-off
// point between backend producer goroutines and the single consumer loop that
// drains them: producers publish under their own key, consumers subscribe to
// one key, several keys or everything.
package bus

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type Message[K comparable, M any] struct {
	Key     K
	Message M
}

type Publisher[M any] func(ctx context.Context, msg M)

type Bus[K comparable, M any] struct {
	log    *zap.Logger
	ready  chan struct{}
	buffer int

	ch         chan Message[K, M]
	keySubs    *xsync.MapOf[K, map[chan Message[K, M]]struct{}]
	globalSubs *xsync.MapOf[chan Message[K, M], struct{}]
}

type Option func(*options)

type options struct {
	buffer int
}

// WithBuffer sets the capacity of subscriber channels. The default of zero
// makes delivery synchronous with the subscriber.
func WithBuffer(n int) Option {
	return func(o *options) {
		o.buffer = n
	}
}

func NewBus[K comparable, M any](logger *zap.Logger, opts ...Option) *Bus[K, M] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[K, M]{
		log:        logger,
		ready:      make(chan struct{}),
		buffer:     o.buffer,
		ch:         make(chan Message[K, M]),
		keySubs:    xsync.NewMapOf[K, map[chan Message[K, M]]struct{}](),
		globalSubs: xsync.NewMapOf[chan Message[K, M], struct{}](),
	}
}

func (b *Bus[K, M]) Start(ctx context.Context) error {
	if b.buffer < 0 {
		return fmt.Errorf("buffer must not be negative")
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-b.ch:
				b.dispatch(ctx, msg)
			}
		}
	}()
	close(b.ready)
	return nil
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
	case b.ch <- Message[K, M]{Key: key, Message: msg}:
	}
}

// CreatePublisher binds a key so that producers do not need to know how they
// are addressed on the bus.
func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

func (b *Bus[K, M]) dispatch(ctx context.Context, msg Message[K, M]) {
	b.globalSubs.Range(func(sub chan Message[K, M], _ struct{}) bool {
		select {
		case <-ctx.Done():
			return false
		case sub <- msg:
		}
		return true
	})
	subs, ok := b.keySubs.Load(msg.Key)
	if !ok {
		return
	}
	for sub := range subs {
		select {
		case <-ctx.Done():
			return
		case sub <- msg:
		}
	}
}

// Subscribe returns a channel receiving every message published under the
// given keys, or every message on the bus when no key is given. The channel
// is closed when ctx is cancelled.
func (b *Bus[K, M]) Subscribe(ctx context.Context, keys ...K) <-chan Message[K, M] {
	ch := make(chan Message[K, M], b.buffer)
	if len(keys) == 0 {
		b.globalSubs.Store(ch, struct{}{})
		go func() {
			<-ctx.Done()
			b.globalSubs.Delete(ch)
			close(ch)
		}()
		return ch
	}
	for _, k := range keys {
		b.keySubs.Compute(k, func(val map[chan Message[K, M]]struct{}, ok bool) (map[chan Message[K, M]]struct{}, bool) {
			if !ok {
				val = make(map[chan Message[K, M]]struct{}, 4)
			}
			val[ch] = struct{}{}
			return val, false
		})
	}
	go func() {
		<-ctx.Done()
		for _, k := range keys {
			b.keySubs.Compute(k, func(val map[chan Message[K, M]]struct{}, ok bool) (map[chan Message[K, M]]struct{}, bool) {
				delete(val, ch)
				return val, len(val) == 0
			})
		}
		close(ch)
	}()
	return ch
}
