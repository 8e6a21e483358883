// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyvehq/relay-agent/pkg/backend/backoff"
	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/envelope"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var outlog = log.WithComponent("Outbound")

const (
	// deliverTimeout bounds one plugin.Deliver call. A hung delivery is
	// abandoned, acked retryable and its slot released.
	deliverTimeout = 60 * time.Second

	// ackAttempts bounds ack retries before the ack is dropped and the
	// cloud re-delivers.
	ackAttempts    = 3
	ackBackoffBase = 500 * time.Millisecond
	ackBackoffCap  = 5 * time.Second

	// ackedLimit caps the duplicate-ack suppression set. It covers many polls'
	// worth of messages; by the time an id is evicted the cloud has long
	// stopped re-delivering it.
	ackedLimit = 1024
)

// outboundLoop polls the cloud queue and dispatches each message through the
// plugin with bounded concurrency.
type outboundLoop struct {
	client       relayapi.Client
	plugin       channel.Plugin
	relayID      string
	pollInterval time.Duration
	maxPerPoll   int
	metrics      *Metrics

	// wake lets the heartbeat loop cut the current poll sleep short when the
	// cloud hints at pending work.
	wake chan struct{}

	// acked suppresses duplicate acks for ids whose success the cloud has
	// already confirmed: an unacked message re-appears in later polls until
	// cloud-side visibility catches up. The set is capped at ackedLimit,
	// evicting oldest-first, so a long-running relay holds constant memory.
	ackedLock  sync.Mutex
	acked      map[string]struct{}
	ackedOrder []string

	// inflight tracks running deliveries so draining can wait for them.
	inflight sync.WaitGroup
}

func newOutboundLoop(client relayapi.Client, plugin channel.Plugin, relayID string, pollInterval time.Duration, maxPerPoll int, metrics *Metrics) *outboundLoop {
	if maxPerPoll < 1 {
		maxPerPoll = 1
	}
	return &outboundLoop{
		client:       client,
		plugin:       plugin,
		relayID:      relayID,
		pollInterval: pollInterval,
		maxPerPoll:   maxPerPoll,
		metrics:      metrics,
		wake:         make(chan struct{}, 1),
		acked:        map[string]struct{}{},
	}
}

// Wake pokes the loop without blocking; a pending poke is enough.
func (o *outboundLoop) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx fires. Poll failures back off exponentially and reset
// on success.
func (o *outboundLoop) Run(ctx context.Context) {
	bo := backoff.NewDefaultBackoff()

	for {
		if !o.sleep(ctx, o.pollInterval) {
			o.inflight.Wait()
			return
		}

		msgs, err := o.client.PollOutbound(ctx, o.relayID)
		if err != nil {
			if ctx.Err() != nil {
				o.inflight.Wait()
				return
			}
			delay := bo.Duration()
			outlog.WithError(err).WithField("retryIn", delay.String()).Warn("Outbound poll failed.")
			if err := backoff.Sleep(ctx, delay); err != nil {
				o.inflight.Wait()
				return
			}
			continue
		}
		bo.Reset()

		o.dispatchBatch(ctx, msgs)
	}
}

// sleep waits for the poll interval, a wake poke, or cancellation. It reports
// false when ctx fired.
func (o *outboundLoop) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-o.wake:
		return true
	case <-timer.C:
		return true
	}
}

// dispatchBatch hands each message to the plugin through a semaphore of width
// maxPerPoll. Slots are acquired in the order the cloud returned the
// messages, so a batch keeps its FIFO shape; no guarantee holds across
// batches.
func (o *outboundLoop) dispatchBatch(ctx context.Context, msgs []envelope.Outbound) {
	if len(msgs) == 0 {
		return
	}

	slots := make(chan struct{}, o.maxPerPoll)
	for _, msg := range msgs {
		if o.alreadyAcked(msg.ID) {
			outlog.WithField("id", msg.ID).Debug("Skipping already acked outbound message.")
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			o.inflight.Wait()
			return
		}

		o.inflight.Add(1)
		go func(msg envelope.Outbound) {
			defer o.inflight.Done()
			defer func() { <-slots }()
			o.dispatch(ctx, msg)
		}(msg)
	}

	o.inflight.Wait()
}

// dispatch delivers one message and acks the outcome.
func (o *outboundLoop) dispatch(ctx context.Context, msg envelope.Outbound) {
	start := time.Now()
	result, err := o.deliverBounded(ctx, msg.Envelope)
	elapsed := time.Since(start)

	ack := envelope.Ack{
		OutboundMessageID: msg.ID,
		DurationMs:        elapsed.Milliseconds(),
	}

	if err == nil {
		ack.Success = true
		ack.PlatformMessageID = result.PlatformMessageID
		o.metrics.OutboundDelivered.Add(1)
	} else {
		retryable := true
		reason := err.Error()
		var dErr *channel.DeliveryError
		if errors.As(err, &dErr) {
			retryable = dErr.Retryable
			reason = dErr.Reason
		}
		ack.Success = false
		ack.Error = reason
		ack.Retryable = &retryable
		o.metrics.OutboundFailed.Add(1)
		outlog.WithError(err).WithFields(logrus.Fields{
			"id":        msg.ID,
			"retryable": retryable,
		}).Warn("Outbound delivery failed.")
	}

	o.sendAck(ctx, ack)
}

// deliverBounded applies the per-call deadline. When the plugin overruns it,
// the delivery is abandoned and reported retryable.
func (o *outboundLoop) deliverBounded(ctx context.Context, env envelope.Egress) (channel.DeliveryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	type outcome struct {
		result channel.DeliveryResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := o.plugin.Deliver(ctx, env)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		outlog.Warn("Delivery exceeded its deadline, abandoning the call.")
		return channel.DeliveryResult{}, &channel.DeliveryError{
			Reason:    "delivery timed out",
			Retryable: true,
			Err:       ctx.Err(),
		}
	}
}

// sendAck reports the outcome, retrying with short backoff. Once an ack for
// an id has succeeded it is never sent again; after the final failed attempt
// the ack is dropped and the cloud re-delivers.
func (o *outboundLoop) sendAck(ctx context.Context, ack envelope.Ack) {
	bo := backoff.New(ackBackoffBase, ackBackoffCap)

	for attempt := 0; attempt < ackAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, bo.Duration()); err != nil {
				return
			}
		}

		err := o.client.AckOutbound(ctx, ack)
		if err == nil {
			if ack.Success {
				o.markAcked(ack.OutboundMessageID)
			}
			return
		}
		if !relayapi.IsRetryable(err) || ctx.Err() != nil {
			outlog.WithError(err).WithField("id", ack.OutboundMessageID).Warn("Dropping outbound ack.")
			return
		}
	}
	outlog.WithField("id", ack.OutboundMessageID).Warn("Ack retries exhausted, the cloud will re-deliver.")
}

func (o *outboundLoop) alreadyAcked(id string) bool {
	o.ackedLock.Lock()
	defer o.ackedLock.Unlock()
	_, ok := o.acked[id]
	return ok
}

func (o *outboundLoop) markAcked(id string) {
	o.ackedLock.Lock()
	defer o.ackedLock.Unlock()
	if _, ok := o.acked[id]; ok {
		return
	}
	o.acked[id] = struct{}{}
	o.ackedOrder = append(o.ackedOrder, id)
	if len(o.ackedOrder) > ackedLimit {
		delete(o.acked, o.ackedOrder[0])
		o.ackedOrder = o.ackedOrder[1:]
	}
}

// Drain waits for in-flight deliveries and acks.
func (o *outboundLoop) Drain() {
	o.inflight.Wait()
}
