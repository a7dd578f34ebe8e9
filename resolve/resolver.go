// Package resolve applies resolution strategies to conflict items produced
// by the conflict detector. Strategies never mutate the item; each call
// produces a new Resolution.
package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/c0deZ3R0/collab-kit/conflict"
	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/logging"
)

// MergeResult is the outcome of a merge attempt. A failed merge lists the
// sub-fields or keys it could not reconcile; a partial merge is never
// reported as success.
type MergeResult struct {
	Success     bool        `json:"success"`
	MergedValue interface{} `json:"mergedValue"`
	Conflicts   []string    `json:"conflicts,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// Resolution is the outcome of applying a strategy to a conflict item.
type Resolution struct {
	Strategy      conflict.Strategy `json:"strategy"`
	ResolvedValue interface{}       `json:"resolvedValue,omitempty"`
	MergeResult   *MergeResult      `json:"mergeResult,omitempty"`
	ResolvedBy    string            `json:"resolvedBy"`
	ResolvedAt    time.Time         `json:"resolvedAt"`
	Notes         string            `json:"notes,omitempty"`
}

// PermissionChecker decides whether a user may force their local version
// over a remote edit.
type PermissionChecker interface {
	CanOverride(ctx context.Context, item conflict.Item, userID string) (bool, error)
}

// BaseVersionStore fetches the common-ancestor value for a three-way merge.
type BaseVersionStore interface {
	BaseVersion(ctx context.Context, pageName, contentKey string) (interface{}, error)
}

// Hooks provides optional callbacks for observability around resolution.
// All hooks are optional; nil functions are safe no-ops.
type Hooks struct {
	OnResolved          func(item conflict.Item, res Resolution)
	OnAutoResolveFailed func(item conflict.Item, err error)
	OnPermissionDenied  func(item conflict.Item, userID string)
}

// Resolver applies resolution strategies to conflict items.
type Resolver struct {
	permissions PermissionChecker
	bases       BaseVersionStore
	hooks       Hooks
	logger      *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPermissionChecker sets the override-permission collaborator. Without
// one, non-forced KeepLocal calls are denied.
func WithPermissionChecker(p PermissionChecker) Option {
	return func(r *Resolver) { r.permissions = p }
}

// WithBaseVersionStore sets the merge-base collaborator used by
// ThreeWayMerge when no base value is supplied.
func WithBaseVersionStore(b BaseVersionStore) Option {
	return func(r *Resolver) { r.bases = b }
}

// WithHooks sets optional observability hooks. Zero-value safe.
func WithHooks(h Hooks) Option {
	return func(r *Resolver) { r.hooks = h }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver constructs a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: logging.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("resolve")
	return r
}

// AcceptRemote resolves the conflict by taking the remote version.
func (r *Resolver) AcceptRemote(ctx context.Context, item conflict.Item, userID string) (Resolution, error) {
	res := Resolution{
		Strategy:      conflict.StrategyAcceptRemote,
		ResolvedValue: item.RemoteVersion,
		ResolvedBy:    userID,
		ResolvedAt:    time.Now(),
	}
	r.resolved(item, res)
	return res, nil
}

// KeepLocal resolves the conflict by keeping the local version. Unless
// force is set, the override-permission collaborator is consulted first and
// a denial fails with a permission error, distinct from merge failures.
func (r *Resolver) KeepLocal(ctx context.Context, item conflict.Item, userID string, force bool) (Resolution, error) {
	const op = kiterr.Op("resolver.KeepLocal")

	if !force {
		allowed, err := r.canOverride(ctx, item, userID)
		if err != nil {
			return Resolution{}, kiterr.E(op, kiterr.Component("resolve"),
				fmt.Errorf("override permission check failed: %w", err))
		}
		if !allowed {
			if r.hooks.OnPermissionDenied != nil {
				r.hooks.OnPermissionDenied(item, userID)
			}
			return Resolution{}, kiterr.NewPermissionError(op,
				fmt.Errorf("user %s is not permitted to override remote changes on %s", userID, item.PageName))
		}
	}

	res := Resolution{
		Strategy:      conflict.StrategyKeepLocal,
		ResolvedValue: item.LocalVersion,
		ResolvedBy:    userID,
		ResolvedAt:    time.Now(),
	}
	r.resolved(item, res)
	return res, nil
}

func (r *Resolver) canOverride(ctx context.Context, item conflict.Item, userID string) (bool, error) {
	if r.permissions == nil {
		return false, nil
	}
	return r.permissions.CanOverride(ctx, item, userID)
}

// Merge resolves the conflict by combining both versions. Content merges
// use type-directed rules; structural merges combine non-conflicting
// position and properties sub-fields. A merge that cannot reconcile fails
// with the unresolved parts listed in the MergeResult.
func (r *Resolver) Merge(ctx context.Context, item conflict.Item, userID string) (Resolution, error) {
	const op = kiterr.Op("resolver.Merge")

	var mr MergeResult
	if item.Type == conflict.ItemStructure {
		mr = mergeStructural(item.LocalVersion, item.RemoteVersion)
	} else {
		mr = mergeContent(item.LocalVersion, item.RemoteVersion)
	}

	res := Resolution{
		Strategy:      conflict.StrategyMerge,
		ResolvedValue: mr.MergedValue,
		MergeResult:   &mr,
		ResolvedBy:    userID,
		ResolvedAt:    time.Now(),
	}
	if !mr.Success {
		return res, kiterr.NewConflictError(op,
			fmt.Errorf("merge failed: %d unresolved conflicts", len(mr.Conflicts)))
	}
	r.resolved(item, res)
	return res, nil
}

// ThreeWayMerge reconciles local and remote against their common ancestor.
// When base is nil it is fetched from the merge-base collaborator.
func (r *Resolver) ThreeWayMerge(ctx context.Context, item conflict.Item, userID string, base interface{}) (Resolution, error) {
	const op = kiterr.Op("resolver.ThreeWayMerge")

	if base == nil {
		if r.bases == nil {
			return Resolution{}, kiterr.NewValidationError(op,
				fmt.Errorf("no base version supplied and no base-version store configured"))
		}
		fetched, err := r.bases.BaseVersion(ctx, item.PageName, item.ContentKey)
		if err != nil {
			return Resolution{}, kiterr.E(op, kiterr.Component("resolve"),
				fmt.Errorf("base version lookup failed: %w", err))
		}
		base = fetched
	}

	mr := threeWayMerge(base, item.LocalVersion, item.RemoteVersion)
	res := Resolution{
		Strategy:      conflict.StrategyThreeWayMerge,
		ResolvedValue: mr.MergedValue,
		MergeResult:   &mr,
		ResolvedBy:    userID,
		ResolvedAt:    time.Now(),
	}
	if len(mr.Conflicts) > 0 {
		res.Notes = fmt.Sprintf("%d conflicts resolved preferring local", len(mr.Conflicts))
	}
	r.resolved(item, res)
	return res, nil
}

// AutoResolve dispatches to the strategy suggested by the classification.
// It returns nil unless the classification is auto-resolvable, and nil on
// any internal failure: auto-resolution never fails loudly, it degrades to
// manual resolution.
func (r *Resolver) AutoResolve(ctx context.Context, item conflict.Item, class conflict.Classification, userID string) (res *Resolution) {
	defer func() {
		if rec := recover(); rec != nil {
			r.autoResolveFailed(ctx, item, fmt.Errorf("panic during auto-resolution: %v", rec))
			res = nil
		}
	}()

	if !class.AutoResolvable {
		return nil
	}

	var (
		out Resolution
		err error
	)
	switch class.SuggestedStrategy {
	case conflict.StrategyAcceptRemote:
		out, err = r.AcceptRemote(ctx, item, userID)
	case conflict.StrategyKeepLocal:
		out, err = r.KeepLocal(ctx, item, userID, false)
	case conflict.StrategyMerge:
		out, err = r.Merge(ctx, item, userID)
	case conflict.StrategyThreeWayMerge:
		out, err = r.ThreeWayMerge(ctx, item, userID, nil)
	default:
		err = fmt.Errorf("unknown strategy %q", class.SuggestedStrategy)
	}
	if err != nil {
		r.autoResolveFailed(ctx, item, err)
		return nil
	}
	return &out
}

func (r *Resolver) resolved(item conflict.Item, res Resolution) {
	if r.hooks.OnResolved != nil {
		r.hooks.OnResolved(item, res)
	}
}

func (r *Resolver) autoResolveFailed(ctx context.Context, item conflict.Item, err error) {
	r.logger.LogError(ctx, err, "auto-resolution failed, falling back to manual resolution")
	if r.hooks.OnAutoResolveFailed != nil {
		r.hooks.OnAutoResolveFailed(item, err)
	}
}
