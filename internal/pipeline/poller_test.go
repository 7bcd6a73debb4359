package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/mail"
)

type fakeMailbox struct {
	fakeMarker
	msgs     []mail.Message
	fetchErr error
	filter   mail.Filter
	closed   bool
}

func (m *fakeMailbox) FetchUnseen(_ context.Context, f mail.Filter) ([]mail.Message, error) {
	m.filter = f
	return m.msgs, m.fetchErr
}

func (m *fakeMailbox) Close() error {
	m.closed = true
	return nil
}

func dialTo(mb *fakeMailbox) DialFunc {
	return func(context.Context) (Mailbox, error) { return mb, nil }
}

func TestCycle_ProcessesEveryMessage(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	empty := permitMessage(2)
	empty.Body = ""
	mb := &fakeMailbox{msgs: []mail.Message{permitMessage(1), empty, permitMessage(3)}}

	p := NewPoller(PollerConfig{MessageTimeout: time.Second, Filter: mail.Filter{SubjectContains: "permit request"}},
		dialTo(mb), h.proc, h.proc.Metrics, nil)
	sum, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if sum[constants.OutcomeStored] != 2 || sum[constants.OutcomeRejected] != 1 {
		t.Errorf("summary = %v", sum)
	}
	if len(mb.seen) != 3 {
		t.Errorf("seen = %v, want all three", mb.seen)
	}
	if !mb.closed {
		t.Error("session not closed")
	}
	if mb.filter.SubjectContains != "permit request" {
		t.Errorf("filter = %+v", mb.filter)
	}
	if got := testutil.ToFloat64(h.proc.Metrics.CyclesTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("cycles_total{ok} = %v", got)
	}
}

func TestCycle_FailureDoesNotStopLaterMessages(t *testing.T) {
	calls := 0
	h := newHarness(t, func(string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("503 service unavailable")
		}
		return sectorsReply, nil
	})
	mb := &fakeMailbox{msgs: []mail.Message{permitMessage(1), permitMessage(2)}}

	sum, err := NewPoller(PollerConfig{}, dialTo(mb), h.proc, nil, nil).Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if sum[constants.OutcomeFailed] != 1 || sum[constants.OutcomeStored] != 1 {
		t.Errorf("summary = %v", sum)
	}
	if len(mb.seen) != 1 || mb.seen[0] != 2 {
		t.Errorf("seen = %v, want [2]", mb.seen)
	}
}

func TestCycle_FetchError(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	mb := &fakeMailbox{fetchErr: errors.New("mailbox gone")}

	if _, err := NewPoller(PollerConfig{}, dialTo(mb), h.proc, h.proc.Metrics, nil).Cycle(context.Background()); err == nil {
		t.Fatal("fetch error swallowed")
	}
	if !mb.closed {
		t.Error("session not closed after fetch error")
	}
	if got := testutil.ToFloat64(h.proc.Metrics.CyclesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("cycles_total{error} = %v", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	dials := make(chan struct{}, 8)
	dial := func(context.Context) (Mailbox, error) {
		select {
		case dials <- struct{}{}:
		default:
		}
		return nil, errors.New("connection refused")
	}
	p := NewPoller(PollerConfig{Interval: 10 * time.Millisecond}, dial, h.proc, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-dials:
		case <-time.After(2 * time.Second):
			t.Fatal("poller did not retry after a failed cycle")
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
