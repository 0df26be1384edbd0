package workspace

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ActionType discriminates the client-facing action envelope. Every mutation
// of workspace state arrives as one of these and is applied by the owning
// actor in arrival order.
type ActionType string

const (
	ActionWorkspaceRename ActionType = "workspace.rename"
	ActionMemberSetRole   ActionType = "member.set_role"

	ActionAssetCreate ActionType = "asset.create"
	ActionAssetUpdate ActionType = "asset.update"
	ActionAssetMove   ActionType = "asset.move"
	ActionAssetDelete ActionType = "asset.delete"

	ActionGenerationStart ActionType = "generation.start"
	ActionGenerationRetry ActionType = "generation.retry"
	ActionVariantFork     ActionType = "variant.fork"
	ActionVariantActivate ActionType = "variant.activate"

	ActionLineageSever ActionType = "lineage.sever"

	ActionRotationStart  ActionType = "rotation.start"
	ActionRotationCancel ActionType = "rotation.cancel"

	ActionPlanSubmit ActionType = "plan.submit"
	ActionPlanResume ActionType = "plan.resume"

	ActionChatSend ActionType = "chat.send"

	ActionPresenceTouch ActionType = "presence.touch"
)

// ActionRequest is the decoded body of POST /api/workspaces/:id/actions.
type ActionRequest struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// ConnID identifies the sender's stream connection for presence and
	// broadcast echo suppression.
	ConnID string `json:"conn_id,omitempty"`
}

type callbackKind int

const (
	callbackStatus callbackKind = iota
	callbackComplete
	callbackFail
)

// callbackEvent carries one executor delivery into the actor. TaskID equals
// the variant id.
type callbackEvent struct {
	kind   callbackKind
	taskID uuid.UUID

	status       string
	imageRef     string
	thumbRef     string
	errorMessage string
}

type result struct {
	payload any
	err     error
}

// event is one mailbox entry. Exactly one of action/callback is set; reply
// always receives a single result.
type event struct {
	ctx      context.Context
	action   *ActionRequest
	callback *callbackEvent
	reply    chan result
}
