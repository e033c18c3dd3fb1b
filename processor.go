package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Processor is the background engine of the outbox. It periodically
// claims stored messages, delivers them through the configured Transport
// and drives the message lifecycle: completion, retry and dead lettering.
//
// Multiple Processor instances may run against the same table; the
// repository's claim locking keeps them from processing the same message
// twice concurrently.
type Processor struct {
	repo      Repository
	transport Transport

	pollInterval      time.Duration
	processingTimeout time.Duration
	markTimeout       time.Duration
	batchSize         int
	maxRetryCount     int32
	batchSend         bool
	retentionAge      time.Duration
	sweepInterval     time.Duration
	staleClaimTimeout time.Duration
	idleDelay         DelayFunc
	logger            *zap.Logger
	reporter          Reporter

	started      int32
	closed       int32
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	deadLetterCh chan Message
	idleStreak   int
}

// ProcessorOption is a function that configures a Processor instance.
type ProcessorOption func(*Processor)

// WithPollInterval sets the idle wait between processing cycles when no
// messages were claimed. Default is 10 seconds.
func WithPollInterval(interval time.Duration) ProcessorOption {
	return func(p *Processor) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithBatchSize sets the maximum number of messages claimed per cycle.
// Default is 100. Must be positive.
func WithBatchSize(batchSize int) ProcessorOption {
	return func(p *Processor) {
		if batchSize > 0 {
			p.batchSize = batchSize
		}
	}
}

// WithMaxRetryCount sets how many failed delivery attempts a message may
// accumulate before it is dead lettered. Default is 3. Must be positive.
func WithMaxRetryCount(maxRetryCount int32) ProcessorOption {
	return func(p *Processor) {
		if maxRetryCount > 0 {
			p.maxRetryCount = maxRetryCount
		}
	}
}

// WithProcessingTimeout bounds a single delivery attempt. An attempt that
// exceeds it counts as a failure. Default is 5 seconds.
func WithProcessingTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout > 0 {
			p.processingTimeout = timeout
		}
	}
}

// WithMarkTimeout sets the timeout for recording a message outcome in
// storage. Default is 5 seconds.
func WithMarkTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout > 0 {
			p.markTimeout = timeout
		}
	}
}

// WithBatchSend makes the processor deliver each claimed batch through a
// single Transport.SendBatch call. When the batch fails the processor
// falls back to sending the same messages individually, so one poisoned
// message cannot block the rest. Default is off.
func WithBatchSend() ProcessorOption {
	return func(p *Processor) {
		p.batchSend = true
	}
}

// WithRetention enables the retention sweep: completed messages processed
// more than age ago are deleted every sweepInterval.
// Default is a 7 day age swept hourly. Pass age 0 to disable sweeping.
func WithRetention(age time.Duration, sweepInterval time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.retentionAge = age
		if sweepInterval > 0 {
			p.sweepInterval = sweepInterval
		}
	}
}

// WithStaleClaimTimeout enables recovery of messages stuck in the
// Processing state, typically left behind by a crashed processor. A
// claim older than the timeout is reclaimed and redelivered, with the
// lost attempt charged against the retry budget.
// Default is 0 (disabled). Must comfortably exceed the processing
// timeout, otherwise live claims of a slow transport get stolen.
func WithStaleClaimTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout > 0 {
			p.staleClaimTimeout = timeout
		}
	}
}

// WithIdleDelay sets the delay function applied between cycles while the
// outbox is empty or the transport is unhealthy. The attempt number
// passed to the function is the count of consecutive idle cycles, so an
// Exponential delay backs off while there is nothing to do.
// Default is Fixed(poll interval).
func WithIdleDelay(delayFunc DelayFunc) ProcessorOption {
	return func(p *Processor) {
		p.idleDelay = delayFunc
	}
}

// WithDeadLetterChannelSize sets the size of the dead letter notification
// channel. Default is 128. Size must be positive.
func WithDeadLetterChannelSize(size int) ProcessorOption {
	return func(p *Processor) {
		if size > 0 {
			p.deadLetterCh = make(chan Message, size)
		}
	}
}

// WithLogger sets the logger used by the Processor.
// Default is a no-op logger.
func WithLogger(logger *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithReporter sets the metrics reporter used by the Processor.
// Default is NopReporter.
func WithReporter(reporter Reporter) ProcessorOption {
	return func(p *Processor) {
		p.reporter = reporter
	}
}

// NewProcessor creates a new outbox Processor with the given repository,
// transport and options.
func NewProcessor(repo Repository, transport Transport, opts ...ProcessorOption) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Processor{
		repo:              repo,
		transport:         transport,
		ctx:               ctx,
		cancel:            cancel,
		pollInterval:      10 * time.Second,
		processingTimeout: 5 * time.Second,
		markTimeout:       5 * time.Second,
		batchSize:         100,
		maxRetryCount:     3,
		retentionAge:      7 * 24 * time.Hour,
		sweepInterval:     time.Hour,
		logger:            zap.NewNop(),
		reporter:          NopReporter{},
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.idleDelay == nil {
		p.idleDelay = Fixed(p.pollInterval)
	}
	if p.deadLetterCh == nil {
		p.deadLetterCh = make(chan Message, 128)
	}

	return p
}

// Start begins background processing of outbox messages.
// If Start is called multiple times, only the first call has an effect.
func (p *Processor) Start() {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.deadLetterCh)
		p.run()
	}()

	if p.retentionAge > 0 && p.sweepInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runRetentionSweep()
		}()
	}
}

// Stop gracefully shuts down the processor. It prevents new cycles from
// starting and waits for the in-flight cycle to complete. The provided
// context controls how long to wait for graceful shutdown before giving
// up.
//
// If the context expires before processing completes, Stop returns the
// context's error. If shutdown completes successfully, it returns nil.
// Calling Stop multiple times is safe and only the first call has an effect.
func (p *Processor) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}

	p.cancel() // signal stop

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeadLetters returns a channel that receives a copy of every message the
// processor moves to the DeadLetter state. The channel is buffered to
// avoid blocking the processor; when the buffer is full, notifications
// are dropped. The channel is closed when the processor is stopped.
//
// Consumers should drain this channel promptly to avoid missing messages.
func (p *Processor) DeadLetters() <-chan Message {
	return p.deadLetterCh
}

func (p *Processor) run() {
	for {
		dispatched := p.processCycle()

		if dispatched {
			p.idleStreak = 0
			// keep draining while there is work
			select {
			case <-p.ctx.Done():
				return
			default:
				continue
			}
		}

		delay := p.idleDelay(p.idleStreak)
		p.idleStreak++

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// processCycle runs one claim-and-dispatch cycle and reports whether any
// message was dispatched. Errors never escape a cycle; they are logged
// and the processor waits a full idle delay before trying again.
func (p *Processor) processCycle() bool {
	started := time.Now()

	healthCtx, cancel := context.WithTimeout(p.ctx, p.processingTimeout)
	healthy := p.transport.Healthy(healthCtx)
	cancel()
	if !healthy {
		p.logger.Warn("transport unhealthy, skipping cycle")
		p.reporter.CycleCompleted(0, time.Since(started))
		return false
	}

	msgs, err := p.claimMessages()
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Error("claiming messages", zap.Error(err))
		}
		p.reporter.CycleCompleted(0, time.Since(started))
		return false
	}

	if len(msgs) == 0 {
		p.reporter.CycleCompleted(0, time.Since(started))
		return false
	}

	p.dispatch(msgs)
	p.reporter.CycleCompleted(len(msgs), time.Since(started))
	return true
}

// claimMessages claims pending messages first; retries and stale claims
// only get a turn on an otherwise empty cycle, so fresh messages are
// never starved by a backlog of failures.
func (p *Processor) claimMessages() ([]*Message, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.processingTimeout)
	defer cancel()

	msgs, err := p.repo.ClaimPending(ctx, p.batchSize)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}

	msgs, err = p.repo.ClaimFailedForRetry(ctx, p.maxRetryCount, p.batchSize)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}

	if p.staleClaimTimeout > 0 {
		return p.repo.ReclaimStuck(ctx, p.staleClaimTimeout, p.maxRetryCount, p.batchSize)
	}

	return nil, nil
}

func (p *Processor) dispatch(msgs []*Message) {
	if p.batchSend && len(msgs) > 1 {
		if p.dispatchBatch(msgs) {
			return
		}
		// batch rejected, retry the same messages one by one so a single
		// poisoned message cannot block the rest
	}

	for _, msg := range msgs {
		if p.ctx.Err() != nil {
			return
		}
		p.dispatchOne(msg)
	}
}

// dispatchBatch attempts a single SendBatch for the whole claim and
// reports whether it succeeded.
func (p *Processor) dispatchBatch(msgs []*Message) bool {
	ctx, cancel := context.WithTimeout(p.ctx, p.processingTimeout)
	err := p.transport.SendBatch(ctx, msgs)
	cancel()

	if err != nil {
		if p.ctx.Err() != nil {
			// shutdown, leave the claims for the stale claim recovery
			return true
		}
		p.logger.Warn("batch send failed, falling back to per-message delivery",
			zap.Int("batch_size", len(msgs)), zap.Error(err))
		return false
	}

	for _, msg := range msgs {
		p.markCompleted(msg)
	}
	return true
}

func (p *Processor) dispatchOne(msg *Message) {
	ctx, cancel := context.WithTimeout(p.ctx, p.processingTimeout)
	err := p.transport.Send(ctx, msg)
	cancel()

	if err != nil {
		if p.ctx.Err() != nil {
			// cancellation caused by shutdown is not a delivery failure;
			// the message keeps its claim and retry budget
			return
		}
		p.markFailed(msg, err)
		return
	}

	p.markCompleted(msg)
}

func (p *Processor) markCompleted(msg *Message) {
	// marks must complete even during shutdown, so do not derive from p.ctx
	ctx, cancel := context.WithTimeout(context.Background(), p.markTimeout)
	defer cancel()

	if err := p.repo.MarkCompleted(ctx, msg.ID); err != nil {
		p.logger.Error("marking message as completed",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return
	}

	p.reporter.MessageCompleted(msg.EventType)
	p.logger.Debug("message delivered",
		zap.String("message_id", msg.ID.String()),
		zap.String("event_type", msg.EventType))
}

func (p *Processor) markFailed(msg *Message, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.markTimeout)
	defer cancel()

	if err := p.repo.MarkFailed(ctx, msg.ID, cause.Error(), p.maxRetryCount); err != nil {
		p.logger.Error("marking message as failed",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return
	}

	msg.RetryCount++
	msg.LastError = cause.Error()

	if msg.RetryCount >= p.maxRetryCount {
		msg.Status = StatusDeadLetter
		p.reporter.MessageDeadLettered(msg.EventType)
		p.logger.Warn("message dead lettered",
			zap.String("message_id", msg.ID.String()),
			zap.String("event_type", msg.EventType),
			zap.Int32("retry_count", msg.RetryCount),
			zap.Error(cause))
		p.sendDeadLetter(msg)
		return
	}

	msg.Status = StatusFailed
	p.reporter.MessageFailed(msg.EventType)
	p.logger.Warn("message delivery failed",
		zap.String("message_id", msg.ID.String()),
		zap.String("event_type", msg.EventType),
		zap.Int32("retry_count", msg.RetryCount),
		zap.Error(cause))
}

func (p *Processor) sendDeadLetter(msg *Message) {
	select {
	case p.deadLetterCh <- *msg:
	default:
		// Channel buffer full, drop the notification to prevent blocking
	}
}

func (p *Processor) runRetentionSweep() {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepCompleted()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Processor) sweepCompleted() {
	ctx, cancel := context.WithTimeout(context.Background(), p.markTimeout)
	defer cancel()

	deleted, err := p.repo.DeleteCompletedOlderThan(ctx, p.retentionAge)
	if err != nil {
		p.logger.Error("deleting completed messages", zap.Error(err))
		return
	}

	if deleted > 0 {
		p.reporter.MessagesSwept(deleted)
		p.logger.Info("retention sweep removed completed messages", zap.Int64("deleted", deleted))
	}
}
