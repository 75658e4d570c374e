// Package processor drives the signal based lifecycle of the mounted
// filesystem: SIGINT/SIGTERM run the registered shutdown operations,
// SIGHUP runs the reload ones.
package processor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	Reload   = "reload"
	Shutdown = "shutdown"
)

type Processor struct {
	ForceShutdownTimeout time.Duration
	rChan                chan os.Signal
	shutOps              map[string]func() error
	reloadOps            map[string]func() error
	wg                   sync.WaitGroup
	log                  *zap.SugaredLogger
}

// New creates a processor with the given force shutdown timeout.
func New(timeout time.Duration, log *zap.SugaredLogger) *Processor {
	return &Processor{
		ForceShutdownTimeout: timeout,
		rChan:                make(chan os.Signal, 1),
		shutOps:              map[string]func() error{},
		reloadOps:            map[string]func() error{},
		log:                  log,
	}
}

// Run wires the signals and starts the processing goroutines.
func (p *Processor) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(p.rChan, syscall.SIGHUP)
	ctxReload, cancel := context.WithCancel(context.Background())
	p.wg.Add(2)
	go p.processReloadSignal(ctxReload, stop)
	go p.processStopSignal(ctx, cancel)
	return nil
}

// processReloadSignal runs the reload operations on every SIGHUP until
// the context is cancelled.
func (p *Processor) processReloadSignal(ctx context.Context, cancel context.CancelFunc) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.log.Infof("shutdown reload")
			cancel() // stop listening for termination signals too
			return
		case <-p.rChan:
			p.callProcess(p.reloadOps, Reload)
		}
	}
}

// processStopSignal waits for a termination signal, runs the shutdown
// operations and force exits when the timeout elapses first.
func (p *Processor) processStopSignal(ctx context.Context, cancel context.CancelFunc) {
	defer p.wg.Done()
	<-ctx.Done()
	tF := time.AfterFunc(p.ForceShutdownTimeout, func() {
		p.log.Warnf("timeout %d ms elapsed, force exit, umount fs manually", p.ForceShutdownTimeout.Milliseconds())
		os.Exit(0)
	})
	defer tF.Stop()
	p.Shutdown()
	cancel()
}

// callProcess runs every operation registered for a process in
// parallel and waits for all of them.
func (p *Processor) callProcess(oper map[string]func() error, process string) {
	var wg sync.WaitGroup
	for key, op := range oper {
		wg.Add(1)
		name := key
		call := op
		go func() {
			defer wg.Done()
			if err := call(); err != nil {
				p.log.Warnf("%s %s: failed (%s)", process, name, err.Error())
				return
			}
			p.log.Infof("%s %s: succeeded", process, name)
		}()
	}
	wg.Wait()
	p.log.Infof("%s sequence completed", process)
}

// Register adds a named operation to the shutdown or reload set.
func (p *Processor) Register(process, operationName string, operationFunction func() error) error {
	switch process {
	case Shutdown:
		p.shutOps[operationName] = operationFunction
	case Reload:
		p.reloadOps[operationName] = operationFunction
	default:
		return fmt.Errorf("%s process unknown", process)
	}
	return nil
}

// Shutdown runs all registered shutdown operations.
func (p *Processor) Shutdown() {
	p.callProcess(p.shutOps, Shutdown)
}

func (p *Processor) Wait() {
	p.wg.Wait()
}
