package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"circuit-keeper/internal/ledger"

	"go.uber.org/zap"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPermanent Status = "failed_permanent"
	StatusTransient Status = "failed_transient"
)

// Outcome is the terminal result of driving one intent.
type Outcome struct {
	Status Status
	TxRef  ledger.TxRef
	Reason *ledger.RejectError
	Err    error
}

// Broadcaster is the slice of the ledger client the submitter needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) (ledger.TxRef, error)
	TxStatus(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error)
}

// Submitter drives intents to a terminal status. It guarantees exactly one
// broadcast per unique idempotency key: a second Submit on a non-terminal
// key attaches to the in-flight intent and observes its outcome instead of
// broadcasting again. The registry is process-scoped; terminal intents are
// discarded immediately.
type Submitter struct {
	client           Broadcaster
	clock            Clock
	backoff          Backoff
	broadcastRetries int
	log              *zap.Logger

	mu       sync.Mutex
	inflight map[string]*pendingIntent
	wg       sync.WaitGroup
}

type pendingIntent struct {
	done    chan struct{}
	outcome Outcome
}

func New(client Broadcaster, clock Clock, backoff Backoff, broadcastRetries int, log *zap.Logger) *Submitter {
	if clock == nil {
		clock = RealClock()
	}
	if broadcastRetries < 1 {
		broadcastRetries = 1
	}
	return &Submitter{
		client:           client,
		clock:            clock,
		backoff:          backoff,
		broadcastRetries: broadcastRetries,
		log:              log,
		inflight:         make(map[string]*pendingIntent),
	}
}

// Submit drives the intent to a terminal outcome. Terminal ledger
// rejections come back as StatusPermanent with a classified reason and are
// never retried; exhausted retry budgets come back as StatusTransient,
// which callers treat as "re-evaluate next cycle".
func (s *Submitter) Submit(ctx context.Context, intent Intent) (Outcome, error) {
	key, err := intent.Key()
	if err != nil {
		return Outcome{}, err
	}
	if len(intent.Payload) == 0 {
		return Outcome{}, errors.New("intent payload is required")
	}

	s.mu.Lock()
	if existing, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-existing.done:
			return existing.outcome, nil
		}
	}
	pending := &pendingIntent{done: make(chan struct{})}
	s.inflight[key] = pending
	s.wg.Add(1)
	s.mu.Unlock()

	outcome := s.drive(ctx, key, intent)

	s.mu.Lock()
	pending.outcome = outcome
	close(pending.done)
	delete(s.inflight, key)
	s.wg.Done()
	s.mu.Unlock()

	return outcome, nil
}

// drive broadcasts, then polls confirmation with exponential backoff.
// Broadcast retries reuse the same signed payload, so a duplicate of an
// already-accepted transaction is a harmless no-op at the ledger layer.
func (s *Submitter) drive(ctx context.Context, key string, intent Intent) Outcome {
	ref, err := s.broadcast(ctx, intent)
	if err != nil {
		var reject *ledger.RejectError
		if errors.As(err, &reject) {
			s.log.Warn("broadcast rejected",
				zap.String("intent_key", key),
				zap.String("kind", string(intent.Kind)),
				zap.String("reason", string(reject.Reason)),
			)
			return Outcome{Status: StatusPermanent, Reason: reject, Err: err}
		}
		s.log.Warn("broadcast failed", zap.String("intent_key", key), zap.Error(err))
		return Outcome{Status: StatusTransient, Err: err}
	}

	s.log.Info("transaction broadcast",
		zap.String("intent_key", key),
		zap.String("kind", string(intent.Kind)),
		zap.String("target", intent.Target),
		zap.String("tx_ref", string(ref)),
	)

	for attempt := 0; attempt < s.backoff.MaxAttempts; attempt++ {
		if err := s.clock.Sleep(ctx, s.backoff.Delay(attempt)); err != nil {
			return Outcome{Status: StatusTransient, TxRef: ref, Err: err}
		}
		status, err := s.client.TxStatus(ctx, ref)
		if err != nil {
			if ledger.IsTransient(err) {
				continue
			}
			return Outcome{Status: StatusTransient, TxRef: ref, Err: err}
		}
		switch status.State {
		case ledger.TxConfirmed:
			return Outcome{Status: StatusConfirmed, TxRef: ref}
		case ledger.TxRejected:
			reject := &ledger.RejectError{Reason: status.Reason, Detail: status.Detail}
			return Outcome{Status: StatusPermanent, TxRef: ref, Reason: reject, Err: reject}
		}
	}
	return Outcome{
		Status: StatusTransient,
		TxRef:  ref,
		Err:    fmt.Errorf("%w: confirmation not reached after %d polls", ledger.ErrTransient, s.backoff.MaxAttempts),
	}
}

func (s *Submitter) broadcast(ctx context.Context, intent Intent) (ledger.TxRef, error) {
	var lastErr error
	for attempt := 0; attempt < s.broadcastRetries; attempt++ {
		ref, err := s.client.Broadcast(ctx, intent.Payload)
		if err == nil {
			return ref, nil
		}
		if !ledger.IsTransient(err) {
			return "", err
		}
		lastErr = err
		if err := s.clock.Sleep(ctx, s.backoff.Delay(attempt)); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// Wait blocks until every in-flight intent reached a terminal state or the
// context expires. Broadcast transactions cannot be withdrawn, so shutdown
// gives them a best-effort chance to resolve.
func (s *Submitter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
