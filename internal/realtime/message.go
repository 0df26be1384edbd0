package realtime

// Message types broadcast to workspace channels. Every mutation the actor
// commits is announced under exactly one of these.
const (
	TypeWorkspaceUpdated = "workspace:updated"

	TypeAssetCreated = "asset:created"
	TypeAssetUpdated = "asset:updated"
	TypeAssetDeleted = "asset:deleted"

	TypeVariantCreated = "variant:created"
	TypeVariantUpdated = "variant:updated"

	TypeLineageCreated = "lineage:created"
	TypeLineageSevered = "lineage:severed"

	TypeRotationCreated = "rotation:created"
	TypeRotationUpdated = "rotation:updated"

	TypePlanCreated     = "plan:created"
	TypePlanUpdated     = "plan:updated"
	TypePlanStepUpdated = "plan_step:updated"

	TypeChatMessage = "chat:message"

	TypePresenceUpdated = "presence:updated"
)

// Message is the tagged union sent over the broadcast surface. Type is the
// discriminant; Data carries the per-type payload shape.
type Message struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id"`
	Data        any    `json:"data,omitempty"`

	// ExcludeConn suppresses echo to the originating connection. Never
	// serialized to clients on other instances' behalf of delivery targeting;
	// the hub filters locally by conn id.
	ExcludeConn string `json:"exclude_conn,omitempty"`
}
