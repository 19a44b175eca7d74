package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/expense-approval/internal/core/events"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("EventBus", func() {
	var (
		bus *events.EventBus
		ctx context.Context
	)

	BeforeEach(func() {
		bus = events.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
		ctx = context.Background()
	})

	It("ignores events nobody subscribed to", func() {
		evt := events.NewMemberJoinedEvent("org-1", "user-1", "member")
		Expect(bus.Publish(ctx, evt)).To(Succeed())
		Expect(bus.PublishSync(ctx, evt)).To(Succeed())
	})

	It("runs sync handlers in order and stops at the first failure", func() {
		var calls []string
		bus.Subscribe(events.EventTypeMemberJoined, func(_ context.Context, e events.Event) error {
			calls = append(calls, "first:"+e.(*events.MemberJoinedEvent).UserID)
			return errors.New("boom")
		})
		bus.Subscribe(events.EventTypeMemberJoined, func(context.Context, events.Event) error {
			calls = append(calls, "second")
			return nil
		})

		err := bus.PublishSync(ctx, events.NewMemberJoinedEvent("org-1", "user-1", "member"))
		Expect(err).To(MatchError(ContainSubstring("boom")))
		Expect(calls).To(Equal([]string{"first:user-1"}))
	})

	It("turns a panicking handler into an error", func() {
		bus.Subscribe(events.EventTypeMemberJoined, func(context.Context, events.Event) error {
			panic("nil map")
		})

		err := bus.PublishSync(ctx, events.NewMemberJoinedEvent("org-1", "user-1", "member"))
		Expect(err).To(MatchError(ContainSubstring("handler panicked: nil map")))
	})

	It("keeps async handlers running after the request context is cancelled", func() {
		var seen atomic.Int32
		release := make(chan struct{})
		bus.Subscribe(events.EventTypeExpensesReimbursed, func(hctx context.Context, _ events.Event) error {
			<-release
			if hctx.Err() == nil {
				seen.Add(1)
			}
			return nil
		})

		reqCtx, cancel := context.WithCancel(ctx)
		Expect(bus.Publish(reqCtx, events.NewExpensesReimbursedEvent([]string{"e1"}, "admin-1", "10.00"))).To(Succeed())
		cancel()
		close(release)

		drainCtx, stop := context.WithTimeout(ctx, time.Second)
		defer stop()
		Expect(bus.Drain(drainCtx)).To(Succeed())
		Expect(seen.Load()).To(Equal(int32(1)))
	})

	It("gives up draining when the deadline passes", func() {
		block := make(chan struct{})
		defer close(block)
		bus.Subscribe(events.EventTypeExpenseTransitioned, func(context.Context, events.Event) error {
			<-block
			return nil
		})
		Expect(bus.Publish(ctx, events.NewExpenseTransitionedEvent("e1", nil, "submit", "DRAFT", "APPROVAL_PENDING", "user-1"))).To(Succeed())

		drainCtx, stop := context.WithTimeout(ctx, 20*time.Millisecond)
		defer stop()
		Expect(bus.Drain(drainCtx)).To(MatchError(context.DeadlineExceeded))
	})
})
