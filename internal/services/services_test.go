package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/gcp"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/tasks"
)

// recordingNotifier captures broadcasts so tests can assert on event order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	WorkspaceID uuid.UUID
	Type        string
	Data        any
}

func (n *recordingNotifier) Broadcast(workspaceID uuid.UUID, msgType string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{WorkspaceID: workspaceID, Type: msgType, Data: data})
}

func (n *recordingNotifier) BroadcastExcluding(workspaceID uuid.UUID, msgType string, data any, _ string) {
	n.Broadcast(workspaceID, msgType, data)
}

func (n *recordingNotifier) SendTo(_ string, workspaceID uuid.UUID, msgType string, data any) {
	n.Broadcast(workspaceID, msgType, data)
}

func (n *recordingNotifier) typesSeen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

func (n *recordingNotifier) countOf(msgType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == msgType {
			c++
		}
	}
	return c
}

// recordingExecutor captures dispatched payloads. When fail is set every
// dispatch errors, which the generation service treats as an immediate task
// failure.
type recordingExecutor struct {
	mu       sync.Mutex
	fail     bool
	payloads []tasks.Payload
}

func (e *recordingExecutor) Dispatch(_ context.Context, taskID uuid.UUID, payload tasks.Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return fmt.Errorf("dispatch refused")
	}
	if taskID != payload.VariantID {
		return fmt.Errorf("task id %s does not match variant id %s", taskID, payload.VariantID)
	}
	e.payloads = append(e.payloads, payload)
	return nil
}

func (e *recordingExecutor) dispatched() []tasks.Payload {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tasks.Payload, len(e.payloads))
	copy(out, e.payloads)
	return out
}

// memoryBucket is an in-process BucketService for media tests.
type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string][]byte{}}
}

func (b *memoryBucket) key(category gcp.BucketCategory, key string) string {
	return string(category) + "/" + key
}

func (b *memoryBucket) UploadObject(_ context.Context, category gcp.BucketCategory, key string, _ string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[b.key(category, key)] = raw
	return nil
}

func (b *memoryBucket) DownloadObject(_ context.Context, category gcp.BucketCategory, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[b.key(category, key)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", category, key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memoryBucket) DeleteObject(_ context.Context, category gcp.BucketCategory, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, b.key(category, key))
	return nil
}

func (b *memoryBucket) ListKeys(_ context.Context, category gcp.BucketCategory, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		key, ok := strings.CutPrefix(k, string(category)+"/")
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *memoryBucket) GetPublicURL(category gcp.BucketCategory, key string) string {
	return "https://example.test/" + string(category) + "/" + key
}

// env bundles the wired service graph against the shared test database.
type env struct {
	db  *gorm.DB
	log *logger.Logger

	notifier *recordingNotifier
	executor *recordingExecutor
	bucket   *memoryBucket

	workspaceRepo repos.WorkspaceRepo
	assetRepo     repos.AssetRepo
	variantRepo   repos.VariantRepo
	lineageRepo   repos.LineageRepo
	rotationRepo  repos.RotationRepo
	planRepo      repos.PlanRepo

	media      MediaService
	workspaces WorkspaceService
	variants   VariantService
	lineage    LineageService
	assets     AssetService
	generation GenerationService
	rotation   RotationService
	plans      PlanService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	e := &env{
		db:       db,
		log:      log,
		notifier: &recordingNotifier{},
		executor: &recordingExecutor{},
		bucket:   newMemoryBucket(),
	}

	e.workspaceRepo = repos.NewWorkspaceRepo(db, log)
	e.assetRepo = repos.NewAssetRepo(db, log)
	e.variantRepo = repos.NewVariantRepo(db, log)
	e.lineageRepo = repos.NewLineageRepo(db, log)
	e.rotationRepo = repos.NewRotationRepo(db, log)
	e.planRepo = repos.NewPlanRepo(db, log)

	e.media = NewMediaService(log, e.bucket)
	quota := NewQuotaService(log, nil)

	e.workspaces = NewWorkspaceService(db, log, e.workspaceRepo, e.notifier)
	e.variants = NewVariantService(db, log, e.variantRepo, e.notifier)
	e.lineage = NewLineageService(db, log, e.lineageRepo, e.notifier)
	e.assets = NewAssetService(db, log, e.assetRepo, e.variantRepo, e.media, e.bucket, e.notifier)
	e.generation = NewGenerationService(db, log, e.assetRepo, e.variantRepo, e.lineageRepo, quota, e.executor, e.notifier)
	e.rotation = NewRotationService(db, log, e.rotationRepo, e.variantRepo, e.lineageRepo, e.media, e.generation, e.notifier)
	e.plans = NewPlanService(db, log, e.planRepo, e.generation, e.notifier)

	e.variants.RegisterCompletionListener(e.rotation.HandleVariantCompleted)
	e.variants.RegisterCompletionListener(e.plans.HandleVariantCompleted)
	e.variants.RegisterFailureListener(e.rotation.HandleVariantFailed)
	e.variants.RegisterFailureListener(e.plans.HandleVariantFailed)

	return e
}
