package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spriteforge/spriteforge-backend/internal/clients/openai"
	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/gcp"
)

type scriptedChat struct {
	mu       sync.Mutex
	requests []openai.ChatRequest
	reply    string
	err      error
}

func (c *scriptedChat) Complete(_ context.Context, req openai.ChatRequest) (*openai.ChatResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &openai.ChatResult{Text: c.reply, Usage: openai.Usage{TotalTokens: 7}}, nil
}

type scriptedVision struct {
	mu          sync.Mutex
	described   int
	description string
}

func (v *scriptedVision) Describe(context.Context, openai.DescribeRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.described++
	return v.description, nil
}

func newChatEnv(t *testing.T) (*env, *scriptedChat, *scriptedVision, ChatService) {
	t.Helper()
	e := newEnv(t)
	provider := &scriptedChat{reply: "try a three quarter view"}
	vision := &scriptedVision{description: "a knight sprite facing south"}
	chat := NewChatService(
		e.db, e.log,
		repos.NewChatRepo(e.db, e.log),
		e.variantRepo,
		e.media,
		provider, vision,
		NewQuotaService(e.log, nil),
		e.notifier,
	)
	return e, provider, vision, chat
}

func TestChatSendStoresBothSidesAndBroadcasts(t *testing.T) {
	e, provider, _, chat := newChatEnv(t)
	ws, user := testutil.SeedWorkspace(t, e.db)
	ctx := testutil.Ctx(user)

	msgs, err := chat.Send(ctx, ws.ID, SendChatInput{Content: "  how should the walk cycle look?  "})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].SenderType != types.ChatSenderUser || msgs[0].Content != "how should the walk cycle look?" {
		t.Fatalf("user message wrong: %+v", msgs[0])
	}
	if msgs[1].SenderType != types.ChatSenderAssistant || msgs[1].Content != "try a three quarter view" {
		t.Fatalf("assistant message wrong: %+v", msgs[1])
	}
	if got := e.notifier.countOf("chat:message"); got != 2 {
		t.Fatalf("expected 2 chat broadcasts, got %d", got)
	}
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.requests) != 1 {
		t.Fatalf("expected one completion call, got %d", len(provider.requests))
	}
	turns := provider.requests[0].History
	if len(turns) == 0 || turns[len(turns)-1].Content != "how should the walk cycle look?" {
		t.Fatalf("latest user turn missing: %+v", turns)
	}
}

func TestChatSendThreadsPriorHistory(t *testing.T) {
	e, provider, _, chat := newChatEnv(t)
	ws, user := testutil.SeedWorkspace(t, e.db)
	ctx := testutil.Ctx(user)

	if _, err := chat.Send(ctx, ws.ID, SendChatInput{Content: "first question"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := chat.Send(ctx, ws.ID, SendChatInput{Content: "second question"}); err != nil {
		t.Fatalf("second send: %v", err)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	turns := provider.requests[1].History
	if len(turns) != 3 {
		t.Fatalf("second completion should carry both prior turns plus the new one, got %d", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "first question" {
		t.Fatalf("first turn wrong: %+v", turns[0])
	}
	if turns[1].Role != "assistant" {
		t.Fatalf("assistant turn missing: %+v", turns[1])
	}
}

func TestChatSendKeepsUserMessageWhenProviderFails(t *testing.T) {
	e, provider, _, chat := newChatEnv(t)
	provider.err = errors.New("model overloaded")
	ws, user := testutil.SeedWorkspace(t, e.db)
	ctx := testutil.Ctx(user)

	msgs, err := chat.Send(ctx, ws.ID, SendChatInput{Content: "hello"})
	if !errors.Is(err, pkgerr.ErrExternalTask) {
		t.Fatalf("expected external task error, got %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderType != types.ChatSenderUser {
		t.Fatalf("user message should survive provider failure: %+v", msgs)
	}

	history, err := chat.History(ctx, ws.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("stored history should hold only the user message, got %d", len(history))
	}
}

func TestChatSendDescribesAttachedVariant(t *testing.T) {
	e, provider, vision, chat := newChatEnv(t)
	ws, user := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	variant := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	objectKey := strings.TrimPrefix(variant.ImageRef, "image/")
	if err := e.bucket.UploadObject(context.Background(), gcp.BucketCategoryImage, objectKey, "image/png", bytes.NewReader([]byte("png-bytes"))); err != nil {
		t.Fatalf("seed image: %v", err)
	}
	ctx := testutil.Ctx(user)

	if _, err := chat.Send(ctx, ws.ID, SendChatInput{Content: "what is this?", AttachedVariantID: &variant.ID}); err != nil {
		t.Fatalf("send: %v", err)
	}

	vision.mu.Lock()
	described := vision.described
	vision.mu.Unlock()
	if described != 1 {
		t.Fatalf("vision should run once, ran %d times", described)
	}
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if got := provider.requests[0].Context; !strings.Contains(got, "a knight sprite facing south") {
		t.Fatalf("description should flow into the completion context: %q", got)
	}
}

func TestChatSendRejectsEmptyContent(t *testing.T) {
	e, _, _, chat := newChatEnv(t)
	ws, user := testutil.SeedWorkspace(t, e.db)

	if _, err := chat.Send(testutil.Ctx(user), ws.ID, SendChatInput{Content: "   "}); !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("blank content should fail validation, got %v", err)
	}
	if _, err := chat.Send(context.Background(), ws.ID, SendChatInput{Content: "hi"}); !errors.Is(err, pkgerr.ErrPermission) {
		t.Fatalf("unauthenticated send should be rejected, got %v", err)
	}
}

func TestChatHistoryIsEmptyBeforeFirstMessage(t *testing.T) {
	e, _, _, chat := newChatEnv(t)
	ws, user := testutil.SeedWorkspace(t, e.db)

	history, err := chat.History(testutil.Ctx(user), ws.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}
}
