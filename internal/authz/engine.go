package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/lattice-hq/lattice/internal/audit"
	"github.com/lattice-hq/lattice/internal/directory"
	"github.com/lattice-hq/lattice/internal/observability"
	"github.com/lattice-hq/lattice/internal/shared"
)

// Effect is the polarity of a per-user override.
type Effect string

// Override effects.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ValidEffect reports whether e is a known effect.
func ValidEffect(e Effect) bool {
	return e == EffectAllow || e == EffectDeny
}

// Rule names reported in decisions.
const (
	RuleDenyOverride           = "deny_override"
	RuleDenyOverrideInherited  = "deny_override_inherited"
	RuleAllowOverride          = "allow_override"
	RuleAllowOverrideInherited = "allow_override_inherited"
	RuleRoleGrant              = "role_grant"
	RuleRoleGrantInherited     = "role_grant_inherited"
)

// Decision is the outcome of a permission check. Denial is a normal value,
// never an error.
type Decision struct {
	HasAccess   bool   `json:"hasAccess"`
	Reason      string `json:"reason"`
	MatchedRule string `json:"matchedRule,omitempty"`
	MatchedKey  string `json:"matchedKey,omitempty"`
}

// PermissionRow is the catalog view the engine evaluates against.
type PermissionRow struct {
	ID       int64
	Name     string
	IsSystem bool
	IsActive bool
}

// OverrideGrant pairs a permission key with an override effect, used when
// listing a user's effective permissions.
type OverrideGrant struct {
	Key    string `json:"key"`
	Effect Effect `json:"effect"`
}

// EffectivePermissions summarises everything that applies to one user.
type EffectivePermissions struct {
	RolePermissions []string `json:"rolePermissions"`
	AllowOverrides  []string `json:"allowOverrides"`
	DenyOverrides   []string `json:"denyOverrides"`
}

// UserDirectory loads accounts from the external user directory.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (directory.User, error)
}

// Repository provides the set-oriented loads the engine evaluates over.
// A nil permissionIDs slice means "all rows for the user/role".
type Repository interface {
	PermissionsByNames(ctx context.Context, names []string) ([]PermissionRow, error)
	ActiveOverrides(ctx context.Context, userID int64, permissionIDs []int64) (map[int64]Effect, error)
	GrantedPermissionIDs(ctx context.Context, roleID int64, permissionIDs []int64) (map[int64]struct{}, error)
	RolePermissionNames(ctx context.Context, roleID int64) ([]string, error)
	ActiveOverrideGrants(ctx context.Context, userID int64) ([]OverrideGrant, error)
}

// Engine answers "may user U perform permission P".
type Engine struct {
	users   UserDirectory
	repo    Repository
	logger  *slog.Logger
	metrics *observability.Metrics
	audit   audit.Recorder
}

// NewEngine constructs an Engine. Metrics and recorder may be nil.
func NewEngine(users UserDirectory, repo Repository, logger *slog.Logger, metrics *observability.Metrics, recorder audit.Recorder) *Engine {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Engine{users: users, repo: repo, logger: logger, metrics: metrics, audit: recorder}
}

// Check evaluates a single permission key for a user. It only returns an
// error for malformed input or infrastructure failures; "access denied" is a
// Decision value.
func (e *Engine) Check(ctx context.Context, userID int64, key string) (Decision, error) {
	candidates, err := CandidateKeys(key)
	if err != nil {
		return Decision{}, err
	}

	user, decision, err := e.loadSubject(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if decision != nil {
		return e.observe(ctx, userID, key, *decision), nil
	}

	names := append([]string{key}, candidates...)
	rows, err := e.repo.PermissionsByNames(ctx, names)
	if err != nil {
		return Decision{}, err
	}
	perms := make(map[string]PermissionRow, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		perms[row.Name] = row
		if row.IsActive {
			ids = append(ids, row.ID)
		}
	}

	exact, ok := perms[key]
	if !ok {
		return e.observe(ctx, userID, key, Decision{Reason: "permission not found"}), nil
	}
	if !exact.IsActive {
		return e.observe(ctx, userID, key, Decision{Reason: "permission inactive"}), nil
	}

	overrides, err := e.repo.ActiveOverrides(ctx, userID, ids)
	if err != nil {
		return Decision{}, err
	}
	grants, err := e.repo.GrantedPermissionIDs(ctx, *user.RoleID, ids)
	if err != nil {
		return Decision{}, err
	}

	d := evaluate(key, candidates, perms, overrides, grants)
	return e.observe(ctx, userID, key, d), nil
}

// CheckBatch evaluates many keys with three set-oriented loads instead of one
// round trip per key. Results are identical to calling Check per key.
func (e *Engine) CheckBatch(ctx context.Context, userID int64, keys []string) (map[string]bool, error) {
	candidatesByKey := make(map[string][]string, len(keys))
	nameSet := make(map[string]struct{})
	for _, key := range keys {
		if _, ok := candidatesByKey[key]; ok {
			continue
		}
		candidates, err := CandidateKeys(key)
		if err != nil {
			return nil, err
		}
		candidatesByKey[key] = candidates
		nameSet[key] = struct{}{}
		for _, c := range candidates {
			nameSet[c] = struct{}{}
		}
	}

	user, decision, err := e.loadSubject(ctx, userID)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		results := make(map[string]bool, len(keys))
		for key := range candidatesByKey {
			results[key] = false
			e.observe(ctx, userID, key, *decision)
		}
		return results, nil
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}

	var (
		rows      []PermissionRow
		overrides map[int64]Effect
		grants    map[int64]struct{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = e.repo.PermissionsByNames(gctx, names)
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = e.repo.ActiveOverrides(gctx, userID, nil)
		return err
	})
	g.Go(func() error {
		var err error
		grants, err = e.repo.GrantedPermissionIDs(gctx, *user.RoleID, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	perms := make(map[string]PermissionRow, len(rows))
	for _, row := range rows {
		perms[row.Name] = row
	}

	results := make(map[string]bool, len(candidatesByKey))
	for key, candidates := range candidatesByKey {
		d := evaluate(key, candidates, perms, overrides, grants)
		results[key] = d.HasAccess
		e.observe(ctx, userID, key, d)
	}
	return results, nil
}

// EffectivePermissions returns the role grants and active overrides that
// apply to a user.
func (e *Engine) EffectivePermissions(ctx context.Context, userID int64) (EffectivePermissions, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return EffectivePermissions{}, err
	}

	out := EffectivePermissions{
		RolePermissions: []string{},
		AllowOverrides:  []string{},
		DenyOverrides:   []string{},
	}
	if user.RoleID != nil {
		names, err := e.repo.RolePermissionNames(ctx, *user.RoleID)
		if err != nil {
			return EffectivePermissions{}, err
		}
		out.RolePermissions = names
	}
	overrides, err := e.repo.ActiveOverrideGrants(ctx, userID)
	if err != nil {
		return EffectivePermissions{}, err
	}
	for _, o := range overrides {
		switch o.Effect {
		case EffectDeny:
			out.DenyOverrides = append(out.DenyOverrides, o.Key)
		default:
			out.AllowOverrides = append(out.AllowOverrides, o.Key)
		}
	}
	return out, nil
}

// loadSubject loads the user and maps user-level problems to decisions. The
// returned decision is non-nil when evaluation must stop at the subject.
func (e *Engine) loadSubject(ctx context.Context, userID int64) (directory.User, *Decision, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return directory.User{}, &Decision{Reason: "user not found"}, nil
		}
		return directory.User{}, nil, err
	}
	switch {
	case user.IsDeleted:
		return directory.User{}, &Decision{Reason: "user deleted"}, nil
	case !user.IsActive:
		return directory.User{}, &Decision{Reason: "user inactive"}, nil
	case user.RoleID == nil:
		return directory.User{}, &Decision{Reason: "user has no role"}, nil
	}
	return user, nil, nil
}

// evaluate applies the precedence rules over preloaded sets. The first
// matching rule wins. Both the single and the batch path go through this
// function so they cannot diverge.
func evaluate(key string, candidates []string, perms map[string]PermissionRow, overrides map[int64]Effect, grants map[int64]struct{}) Decision {
	exact, ok := perms[key]
	if !ok {
		return Decision{Reason: "permission not found"}
	}
	if !exact.IsActive {
		return Decision{Reason: "permission inactive"}
	}

	if overrides[exact.ID] == EffectDeny {
		return Decision{Reason: "explicitly denied", MatchedRule: RuleDenyOverride, MatchedKey: key}
	}
	for _, candidate := range candidates {
		row, ok := perms[candidate]
		if !ok || !row.IsActive {
			continue
		}
		if overrides[row.ID] == EffectDeny {
			return Decision{
				Reason:      fmt.Sprintf("denied by coarser permission %q", candidate),
				MatchedRule: RuleDenyOverrideInherited,
				MatchedKey:  candidate,
			}
		}
	}

	if overrides[exact.ID] == EffectAllow {
		return Decision{HasAccess: true, Reason: "explicitly allowed", MatchedRule: RuleAllowOverride, MatchedKey: key}
	}
	for _, candidate := range candidates {
		row, ok := perms[candidate]
		if !ok || !row.IsActive {
			continue
		}
		if overrides[row.ID] == EffectAllow {
			return Decision{
				HasAccess:   true,
				Reason:      fmt.Sprintf("allowed by coarser permission %q", candidate),
				MatchedRule: RuleAllowOverrideInherited,
				MatchedKey:  candidate,
			}
		}
	}

	if _, ok := grants[exact.ID]; ok {
		return Decision{HasAccess: true, Reason: "granted by role", MatchedRule: RuleRoleGrant, MatchedKey: key}
	}
	for _, candidate := range candidates {
		row, ok := perms[candidate]
		if !ok || !row.IsActive {
			continue
		}
		if _, granted := grants[row.ID]; granted {
			return Decision{
				HasAccess:   true,
				Reason:      fmt.Sprintf("granted by role via %q", candidate),
				MatchedRule: RuleRoleGrantInherited,
				MatchedKey:  candidate,
			}
		}
	}

	return Decision{Reason: "not granted"}
}

// observe records metrics and emits an audit event for denials.
func (e *Engine) observe(ctx context.Context, userID int64, key string, d Decision) Decision {
	e.metrics.ObserveDecision(d.HasAccess, d.MatchedRule)
	if !d.HasAccess {
		e.audit.Record(ctx, audit.Event{
			ActorID:  userID,
			Action:   "authz.deny",
			Entity:   "permission",
			EntityID: key,
			Meta: map[string]any{
				"reason": d.Reason,
				"rule":   d.MatchedRule,
				"userId": strconv.FormatInt(userID, 10),
			},
		})
	}
	return d
}
