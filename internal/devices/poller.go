package devices

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"go.uber.org/zap"
)

var pollCommands = []string{"summary", "pools"}

type PollResult struct {
	Miner *Miner
	Data  minerapi.Response
	Err   error
	At    time.Time
}

type Poller struct {
	miner    *Miner
	interval time.Duration
	onPoll   func(PollResult)
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	last     PollResult
}

func NewPoller(miner *Miner, interval time.Duration, onPoll func(PollResult), logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		miner:    miner,
		interval: interval,
		onPoll:   onPoll,
		logger:   logger,
	}
}

// Start startet das zyklische Polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started",
		zap.String("miner", p.miner.Address.String()),
		zap.Duration("interval", p.interval))

	return nil
}

// Stop stoppt das Polling
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	// Nur der erste Stop schließt den Kanal
	p.running = false
	stopChan := p.stopChan
	p.mu.Unlock()

	close(stopChan)
	p.wg.Wait()

	p.logger.Info("Poller stopped", zap.String("miner", p.miner.Address.String()))
}

func (p *Poller) pollLoop(stopChan <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			p.PollOnce(ctx)
			cancel()
		}
	}
}

// PollOnce runs one poll cycle, stores it and reports it to the callback.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	data, err := p.miner.API.Multicommand(ctx, pollCommands...)
	result := PollResult{Miner: p.miner, Data: data, Err: err, At: time.Now()}

	if err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		p.logger.Error("Poll failed",
			zap.String("miner", p.miner.Address.String()),
			zap.Error(err))
	} else {
		pollsTotal.WithLabelValues("ok").Inc()
	}

	p.mu.Lock()
	p.last = result
	p.mu.Unlock()

	if p.onPoll != nil {
		p.onPoll(result)
	}
	return result
}

// LastResult returns the most recent poll; ok is false before the first one.
func (p *Poller) LastResult() (PollResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, !p.last.At.IsZero()
}

// IsRunning gibt an ob Poller läuft
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
