package pstate

import (
	"context"

	"github.com/goliatone/go-persisted-state/pkg/activity"
)

type hooksConfig struct {
	hooks   activity.Hooks
	channel string
	actorID string
}

// WithActivityHooks attaches audit hooks notified on every committed change.
// Hooks are cloned and nil entries dropped. Emission is best effort: hook
// errors never affect the mutation that triggered them.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *storeConfig) {
		cfg.hooks.hooks = normalized
	}
}

// WithActivityChannel overrides the default "state" channel on emitted
// events.
func WithActivityChannel(channel string) Option {
	return func(cfg *storeConfig) {
		cfg.hooks.channel = channel
	}
}

// WithActivityActor stamps every emitted event with the acting principal.
func WithActivityActor(actorID string) Option {
	return func(cfg *storeConfig) {
		cfg.hooks.actorID = actorID
	}
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}

// changeEmitter translates store transitions into activity events. A zero
// emitter (no hooks configured) is a no-op.
type changeEmitter struct {
	emitter *activity.Emitter
	actorID string
}

func newChangeEmitter(cfg hooksConfig) *changeEmitter {
	if !cfg.hooks.Enabled() {
		return &changeEmitter{}
	}
	return &changeEmitter{
		emitter: activity.NewEmitter(cfg.hooks, activity.Config{
			Enabled: true,
			Channel: cfg.channel,
		}),
		actorID: cfg.actorID,
	}
}

func (e *changeEmitter) changed(key string, source Source, next State) {
	if !e.emitter.Enabled() {
		return
	}
	input := activity.StateEventInput{
		ActorID: e.actorID,
		Key:     key,
		Source:  string(source),
		Fields:  fieldNames(next),
	}
	var event activity.Event
	switch source {
	case SourceSet:
		event = activity.BuildStateReplacedEvent(input)
	case SourceExternal:
		event = activity.BuildStateSyncedEvent(input)
	default:
		event = activity.BuildStatePatchedEvent(input)
	}
	_ = e.emitter.Emit(context.Background(), event)
}

func (e *changeEmitter) removed(key string, fields []string) {
	if !e.emitter.Enabled() || len(fields) == 0 {
		return
	}
	_ = e.emitter.Emit(context.Background(), activity.BuildStatePatchedEvent(activity.StateEventInput{
		ActorID: e.actorID,
		Key:     key,
		Source:  string(SourcePatch),
		Removed: fields,
	}))
}

func (e *changeEmitter) cleared(key string) {
	if !e.emitter.Enabled() {
		return
	}
	_ = e.emitter.Emit(context.Background(), activity.BuildStateClearedEvent(activity.StateEventInput{
		ActorID: e.actorID,
		Key:     key,
	}))
}

func fieldNames(state State) []string {
	if len(state) == 0 {
		return nil
	}
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	return names
}
