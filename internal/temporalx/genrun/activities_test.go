package genrun

import (
	"context"
	"testing"

	"github.com/google/uuid"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/tasks"
)

type recordingSink struct {
	statuses  []string
	completes int
	fails     int
	imageRef  string
	errorMsg  string
}

func (s *recordingSink) OnStatus(_ context.Context, _, _ uuid.UUID, status string) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *recordingSink) OnComplete(_ context.Context, _, _ uuid.UUID, imageRef, _ string) error {
	s.completes++
	s.imageRef = imageRef
	return nil
}

func (s *recordingSink) OnFail(_ context.Context, _, _ uuid.UUID, errorMessage string) error {
	s.fails++
	s.errorMsg = errorMessage
	return nil
}

func TestDeliverRoutesOutcomes(t *testing.T) {
	sink := &recordingSink{}
	a := &Activities{Sink: sink}
	ctx := context.Background()
	payload := tasks.Payload{WorkspaceID: uuid.New(), VariantID: uuid.New()}

	if err := a.Deliver(ctx, Delivery{Payload: payload, Outcome: "status", Status: types.VariantStatusProcessing}); err != nil {
		t.Fatalf("status delivery: %v", err)
	}
	if len(sink.statuses) != 1 || sink.statuses[0] != types.VariantStatusProcessing {
		t.Fatalf("status not routed: %v", sink.statuses)
	}

	if err := a.Deliver(ctx, Delivery{Payload: payload, Outcome: "complete", ImageRef: "image/variants/x.png"}); err != nil {
		t.Fatalf("complete delivery: %v", err)
	}
	if sink.completes != 1 || sink.imageRef != "image/variants/x.png" {
		t.Fatalf("complete not routed: %d %q", sink.completes, sink.imageRef)
	}

	if err := a.Deliver(ctx, Delivery{Payload: payload, Outcome: "fail", ErrorMessage: "provider down"}); err != nil {
		t.Fatalf("fail delivery: %v", err)
	}
	if sink.fails != 1 || sink.errorMsg != "provider down" {
		t.Fatalf("failure not routed: %d %q", sink.fails, sink.errorMsg)
	}

	if err := a.Deliver(ctx, Delivery{Payload: payload, Outcome: "transmogrify"}); err == nil {
		t.Fatalf("unknown outcome should error")
	}
}
