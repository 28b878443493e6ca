package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// Dispatcher fans a message out to every enabled channel. Failures are
// reported per channel and never returned as errors.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds each channel send.
func NewDispatcher(timeout time.Duration, logger *slog.Logger, channels ...Channel) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		channels: make(map[string]Channel, len(channels)),
		timeout:  timeout,
		logger:   logger,
	}
	for _, ch := range channels {
		d.Register(ch)
	}
	return d
}

// Register adds or replaces a channel.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// Channels returns the registered channel names in sorted order.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := lo.Keys(d.channels)
	sort.Strings(names)
	return names
}

// Send delivers msg through one channel with a bounded timeout.
func (d *Dispatcher) Send(ctx context.Context, name string, cfg model.ChannelConfig, msg Message) (res Result) {
	d.mu.RLock()
	ch, ok := d.channels[name]
	d.mu.RUnlock()
	if !ok {
		return Result{Success: false, Detail: fmt.Sprintf("unsupported channel %q", name)}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Success: false, Detail: fmt.Sprintf("panic: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := ch.Send(ctx, cfg, msg); err != nil {
		return Result{Success: false, Detail: err.Error()}
	}
	return Result{Success: true}
}

// Dispatch sends msg to every enabled channel in configs concurrently and
// returns one result per attempted channel.
func (d *Dispatcher) Dispatch(ctx context.Context, configs map[string]model.ChannelConfig, msg Message) map[string]Result {
	enabled := lo.PickBy(configs, func(_ string, cfg model.ChannelConfig) bool {
		return cfg.Enabled()
	})
	results := make(map[string]Result, len(enabled))
	if len(enabled) == 0 {
		d.logger.Debug("no notification channels enabled", "user_id", msg.UserID, "kind", msg.Kind)
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, cfg := range enabled {
		wg.Add(1)
		go func(name string, cfg model.ChannelConfig) {
			defer wg.Done()
			res := d.Send(ctx, name, cfg, msg)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, cfg)
	}
	wg.Wait()

	failed := lo.PickBy(results, func(_ string, r Result) bool { return !r.Success })
	for name, r := range failed {
		d.logger.Error("notification delivery failed",
			"channel", name, "user_id", msg.UserID, "account_id", msg.AccountID, "detail", r.Detail)
	}
	d.logger.Info("notifications dispatched",
		"user_id", msg.UserID, "kind", msg.Kind,
		"attempted", len(results), "succeeded", len(results)-len(failed))

	return results
}
