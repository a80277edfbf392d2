package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the routing state plus its environment. State access must be done
// only on the engine goroutine.
type State struct {
	*Env
	*RouterState
}

// Env can be read from any goroutine.
type Env struct {
	DispatchChannel chan<- func(s *State) error
	Clock           clock.Clock
	Context         context.Context
	Cancel          context.CancelCauseFunc
	Log             *slog.Logger
	Cfg             Config
}

// Dispatch queues the function to run on the engine goroutine without
// waiting for it to complete.
func (e *Env) Dispatch(fun func(*State) error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case e.DispatchChannel <- fun:
	case <-e.Context.Done():
	}
}

// DispatchWait queues the function to run on the engine goroutine and waits
// for its result.
func (e *Env) DispatchWait(fun func(*State) (any, error)) (any, error) {
	ret := make(chan Pair[any, error], 1)
	e.Dispatch(func(s *State) error {
		res, err := fun(s)
		ret <- Pair[any, error]{res, err}
		return err
	})
	select {
	case res := <-ret:
		return res.V1, res.V2
	case <-e.Context.Done():
		return nil, e.Context.Err()
	}
}

// ScheduleTask dispatches the function once after the delay. The returned
// timer can be stopped or reset; resetting supersedes the pending fire.
func (e *Env) ScheduleTask(fun func(*State) error, delay time.Duration) *clock.Timer {
	return e.Clock.AfterFunc(delay, func() {
		e.Dispatch(fun)
	})
}
