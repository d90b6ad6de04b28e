package actorutil

import (
	"errors"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs a function outside the actor and delivers its result, or the
// recovered error, as a message.
type SafeBackgroundTask[T any] struct {
	ctx     actor.Context
	fn      func() (*T, error)
	recover func(error) T
}

func NewBackgroundTask[T any](ctx actor.Context, fn func() (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx: ctx,
		fn:  fn,
	}
}

// Recover turns an error, or a panic inside fn, into a result message.
func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeToAsync runs the task on its own goroutine and sends the result to pid through the
// root context, since the actor context must not leave the actor. Without Recover, failed
// tasks send nothing.
func (t *SafeBackgroundTask[T]) PipeToAsync(pid *actor.PID) {
	root := t.ctx.ActorSystem().Root
	go func() {
		if value, ok := t.run(); ok {
			root.Send(pid, value)
		}
	}()
}

func (t *SafeBackgroundTask[T]) run() (T, bool) {
	bg := io.Map(io.Eval(t.fn), func(a *T) T {
		if a != nil {
			return *a
		}
		panic(errors.New("result is nil"))
	})
	result := io.RunSync(bg)
	if result.Error != nil {
		if t.recover == nil {
			var zero T
			return zero, false
		}
		return t.recover(result.Error), true
	}
	return result.Value, true
}
