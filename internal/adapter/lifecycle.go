package adapter

import (
	"context"
	"os"
	"os/signal"
)

// Initialize prepares the driver and installs the shutdown hooks.
//
// Concurrent calls share one initialization; once it has succeeded later
// calls are no-ops. A failed initialization may be retried.
func (a *Adapter) Initialize(ctx context.Context) error {
	_, err, _ := a.lifecycle.Do("initialize", func() (any, error) {
		a.lifeMu.Lock()
		done := a.initialized
		a.lifeMu.Unlock()
		if done {
			return nil, nil
		}

		if d := a.ops.initializer; d != nil {
			if err := d.Initialize(ctx); err != nil {
				return nil, err
			}
		}

		a.lifeMu.Lock()
		a.initialized = true
		a.lifeMu.Unlock()
		a.installSignalHooks()
		a.logger.Info("adapter initialized", "driver", a.driver.Name())
		return nil, nil
	})
	return err
}

func (a *Adapter) installSignalHooks() {
	if len(a.signals) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, a.signals...)
	stop := make(chan struct{})

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			a.logger.Info("shutdown signal received", "signal", sig.String())
			if err := a.Teardown(context.Background()); err != nil {
				a.logger.Error("teardown failed", "error", err)
			}
		case <-stop:
		}
	}()

	a.lifeMu.Lock()
	a.stopSignals = func() { close(stop) }
	a.lifeMu.Unlock()
}

// Teardown releases the driver exactly once, whichever caller or signal
// gets there first. Other calls wait for it and return its result.
// Pending lock waiters fail with lock.ErrClosed.
func (a *Adapter) Teardown(ctx context.Context) error {
	a.teardownOnce.Do(func() {
		a.lifeMu.Lock()
		stop := a.stopSignals
		a.stopSignals = nil
		a.lifeMu.Unlock()
		if stop != nil {
			stop()
		}

		a.locks.Close()
		if d := a.ops.teardowner; d != nil {
			a.teardownErr = d.Teardown(ctx)
		}
		a.logger.Info("adapter torn down", "driver", a.driver.Name())
		close(a.done)
	})
	return a.teardownErr
}

// Done is closed once Teardown has run.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}
