package session

import "context"

// Event identifies a lifecycle hook point.
type Event int

const (
	PrePersist Event = iota
	PostLoad
	PreInsert
	PostInsert
	PreUpdate
	PostUpdate
	PreDelete
	PostDelete
	PostFlush
	PostCommit
)

func (e Event) String() string {
	switch e {
	case PrePersist:
		return "pre-persist"
	case PostLoad:
		return "post-load"
	case PreInsert:
		return "pre-insert"
	case PostInsert:
		return "post-insert"
	case PreUpdate:
		return "pre-update"
	case PostUpdate:
		return "post-update"
	case PreDelete:
		return "pre-delete"
	case PostDelete:
		return "post-delete"
	case PostFlush:
		return "post-flush"
	case PostCommit:
		return "post-commit"
	}
	return "unknown"
}

// Hook runs synchronously at an event. The entity is nil for PostFlush and
// PostCommit. An error returned from a pre hook aborts the operation.
type Hook func(ctx context.Context, s *Session, e *Entity) error

type registeredHook struct {
	event  Event
	entity string
	fn     Hook
}

// hooks is an ordered hook list. Hooks run in registration order.
type hooks []registeredHook

func (h hooks) run(ctx context.Context, s *Session, event Event, e *Entity) error {
	for _, rh := range h {
		if rh.event != event {
			continue
		}
		if rh.entity != "" && (e == nil || e.meta.Name != rh.entity) {
			continue
		}
		if err := rh.fn(ctx, s, e); err != nil {
			return err
		}
	}
	return nil
}
