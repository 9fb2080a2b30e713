package perms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pusher is the slice of the relay surface the propagator needs.
type Pusher interface {
	PushPermissionChange(ctx context.Context, chg Change) error
}

// Registry is the slice of the peer registry the propagator needs.
// All permission mutation goes through ApplyChange so no collaborator ever
// touches a peer's permission fields directly.
type Registry interface {
	// ApplyChange patches the addressed permission bucket. Unknown peer,
	// unknown field, or an unconvertible value reject the whole change.
	ApplyChange(chg Change) error

	// SnapshotScope returns the current serialized form of the addressed
	// scope object, suitable for a bulk restore.
	SnapshotScope(target string, dir Direction, scope Scope) (json.RawMessage, error)
}

// Propagator owns the two permission flows: outbound "own" changes with
// optimistic apply and rollback, and inbound "other" deltas which the relay
// has already validated and are therefore authoritative.
type Propagator struct {
	relay Pusher
	reg   Registry
	log   *zap.SugaredLogger
}

func NewPropagator(relay Pusher, reg Registry, log *zap.SugaredLogger) *Propagator {
	return &Propagator{relay: relay, reg: reg, log: log}
}

// SetOwn changes one field of our own permissions for target. The change is
// applied locally first, then confirmed with the relay; a rejection reverts
// the scope to its pre-change value. Permissions are never left in a state
// the server did not confirm.
func (p *Propagator) SetOwn(ctx context.Context, target string, scope Scope, key Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadValue, err)
	}

	snap, err := p.reg.SnapshotScope(target, DirectionOwn, scope)
	if err != nil {
		return err
	}

	chg := Change{
		Target:    target,
		Direction: DirectionOwn,
		Scope:     scope,
		Field:     key,
		Value:     raw,
		TS:        time.Now().UnixMilli(),
	}

	if err := p.reg.ApplyChange(chg); err != nil {
		return err
	}

	if err := p.relay.PushPermissionChange(ctx, chg); err != nil {
		revert := Change{
			Target:    target,
			Direction: DirectionOwn,
			Scope:     scope,
			Bulk:      snap,
			TS:        time.Now().UnixMilli(),
		}
		if rerr := p.reg.ApplyChange(revert); rerr != nil {
			p.log.Errorw("permission revert failed", "target", target, "scope", scope, "field", key, "error", rerr)
		}
		p.log.Warnw("permission change rejected by server, reverted", "target", target, "scope", scope, "field", key, "error", err)
		return fmt.Errorf("permission change rejected: %w", err)
	}
	return nil
}

// SetOwnBulk replaces a whole scope object, with the same optimistic
// apply-confirm-revert contract as SetOwn.
func (p *Propagator) SetOwnBulk(ctx context.Context, target string, scope Scope, obj any) error {
	bulk, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadValue, err)
	}

	snap, err := p.reg.SnapshotScope(target, DirectionOwn, scope)
	if err != nil {
		return err
	}

	chg := Change{
		Target:    target,
		Direction: DirectionOwn,
		Scope:     scope,
		Bulk:      bulk,
		TS:        time.Now().UnixMilli(),
	}

	if err := p.reg.ApplyChange(chg); err != nil {
		return err
	}

	if err := p.relay.PushPermissionChange(ctx, chg); err != nil {
		revert := chg
		revert.Bulk = snap
		if rerr := p.reg.ApplyChange(revert); rerr != nil {
			p.log.Errorw("permission revert failed", "target", target, "scope", scope, "error", rerr)
		}
		p.log.Warnw("bulk permission change rejected by server, reverted", "target", target, "scope", scope, "error", err)
		return fmt.Errorf("permission change rejected: %w", err)
	}
	return nil
}

// ApplyRemote applies an inbound delta from the relay. These arrive already
// validated server-side, so there is no confirmation round-trip; a local
// rejection indicates a protocol problem and is logged, not retried.
func (p *Propagator) ApplyRemote(chg Change) error {
	if err := p.reg.ApplyChange(chg); err != nil {
		p.log.Errorw("inbound permission delta rejected",
			"target", chg.Target, "direction", chg.Direction, "scope", chg.Scope, "field", chg.Field, "error", err)
		return err
	}
	return nil
}
