package activity

import (
	"sort"
	"strings"
	"time"
)

// StateEventInput describes the common fields for state lifecycle events.
// Key identifies the persisted record; Source mirrors the change-source tag
// delivered to change observers.
type StateEventInput struct {
	ActorID    string
	UserID     string
	TenantID   string
	Key        string
	Channel    string
	Source     string
	Fields     []string
	Removed    []string
	Recipients []string
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildStateReplacedEvent constructs an event for whole-state replacement.
func BuildStateReplacedEvent(input StateEventInput) Event {
	return buildStateEvent("state.replaced", input)
}

// BuildStatePatchedEvent constructs an event for field-level mutation
// (single-field set, partial patch, or removal).
func BuildStatePatchedEvent(input StateEventInput) Event {
	return buildStateEvent("state.patched", input)
}

// BuildStateSyncedEvent constructs an event for an externally driven reload.
func BuildStateSyncedEvent(input StateEventInput) Event {
	return buildStateEvent("state.synced", input)
}

// BuildStateClearedEvent constructs an event for a full clear, which removes
// the persisted record.
func BuildStateClearedEvent(input StateEventInput) Event {
	return buildStateEvent("state.cleared", input)
}

func buildStateEvent(verb string, input StateEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Source != "" {
		metadata = ensureMetadata(metadata)
		metadata["source"] = input.Source
	}
	if len(input.Fields) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["fields"] = sortedCopy(input.Fields)
	}
	if len(input.Removed) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["removed_fields"] = sortedCopy(input.Removed)
	}

	recipients := input.Recipients
	if len(recipients) > 0 {
		recipients = append([]string{}, input.Recipients...)
	}

	objectID := strings.TrimSpace(input.Key)
	if objectID == "" {
		objectID = "state"
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: "state",
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Recipients: recipients,
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}
