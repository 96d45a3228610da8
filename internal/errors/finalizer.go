package errors

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Finalizer runs registered cleanup functions exactly once, whether the run
// returns normally, fails, or is interrupted by SIGINT/SIGTERM
type Finalizer struct {
	mu          sync.Mutex
	cleanupFunc []func() error
	once        sync.Once
	signalChan  chan os.Signal
	stopChan    chan struct{}
	errOut      io.Writer
	exit        func(code int)
}

// InterruptedExitCode is used when a signal terminates the run
const InterruptedExitCode = 130

// NewFinalizer creates a finalizer that reports cleanup errors to stderr
func NewFinalizer() *Finalizer {
	return &Finalizer{
		signalChan: make(chan os.Signal, 1),
		stopChan:   make(chan struct{}),
		errOut:     os.Stderr,
		exit:       os.Exit,
	}
}

// Register adds a cleanup function; functions run in reverse registration order
func (f *Finalizer) Register(fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupFunc = append(f.cleanupFunc, fn)
}

// Start listens for interruption signals. Without onSignal the first signal
// runs the cleanup functions and exits with InterruptedExitCode. With onSignal
// the first signal only calls it, so the caller can wind down and return; a
// second signal forces the cleanup and exit.
func (f *Finalizer) Start(onSignal func(os.Signal)) {
	signal.Notify(f.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-f.signalChan:
			if onSignal != nil {
				onSignal(sig)
				select {
				case <-f.signalChan:
				case <-f.stopChan:
					return
				}
			}
			f.Run()
			f.exit(InterruptedExitCode)
		case <-f.stopChan:
		}
	}()
}

// Stop stops listening for signals. It does not run the cleanup functions.
func (f *Finalizer) Stop() {
	signal.Stop(f.signalChan)
	select {
	case <-f.stopChan:
	default:
		close(f.stopChan)
	}
}

// Run executes the cleanup functions. Subsequent calls are no-ops.
func (f *Finalizer) Run() {
	f.once.Do(func() {
		f.mu.Lock()
		funcs := make([]func() error, len(f.cleanupFunc))
		copy(funcs, f.cleanupFunc)
		f.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				fmt.Fprintf(f.errOut, "Error during cleanup: %v\n", err)
			}
		}
	})
}
