package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "FlowChain/internal/errors"
)

type fakeWebhookSender struct {
	payloads []string
	err      error
}

func (f *fakeWebhookSender) Send(_ context.Context, content string) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, content)
	return nil
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeStorageFailure,
		Message:    "disk full",
		Severity:   xerrors.SeverityCritical,
		WorkflowID: "wf-1",
		TaskID:     "task-1",
		StepNumber: 2,
		Metadata:   map[string]string{"stage": "job"},
		OccurredAt: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	sender := &fakeWebhookSender{}
	dispatcher := NewFanout(&WebhookNotifier{Sender: sender})

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sender.payloads))
	}
	payload := sender.payloads[0]
	for _, want := range []string{"wf-1", "task-1", "step 2", "STORAGE_FAILURE", "disk full", "stage: job"} {
		if !strings.Contains(payload, want) {
			t.Fatalf("payload 缺少 %q:\n%s", want, payload)
		}
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	boom := errors.New("network down")
	dispatcher := NewFanout(&WebhookNotifier{Sender: &fakeWebhookSender{err: boom}})

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnconfiguredNotifierIsNoop(t *testing.T) {
	dispatcher := NewFanout(&WebhookNotifier{}, &EmailNotifier{})
	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("未配置的通知器应跳过而非报错: %v", err)
	}
}
