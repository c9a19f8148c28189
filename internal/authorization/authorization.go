package authorization

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/railzwaylabs/pricing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

const (
	RoleReader       = "reader"
	RoleMerchandiser = "merchandiser"
	RoleAdmin        = "admin"
)

const (
	ObjectPrices       = "prices"
	ObjectPriceRecords = "price_records"
	ObjectPriceRules   = "price_rules"
	ObjectMarkets      = "markets"
	ObjectCache        = "cache"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

var defaultPolicies = [][]string{
	{RoleReader, ObjectPrices, ActionRead},
	{RoleReader, ObjectPriceRecords, ActionRead},
	{RoleReader, ObjectPriceRules, ActionRead},
	{RoleReader, ObjectMarkets, ActionRead},
	{RoleMerchandiser, ObjectPriceRecords, ActionWrite},
	{RoleMerchandiser, ObjectPriceRules, ActionWrite},
	{RoleAdmin, "*", "*"},
}

var defaultRoleInheritance = [][]string{
	{RoleMerchandiser, RoleReader},
	{RoleAdmin, RoleMerchandiser},
}

var Module = fx.Module("authorization",
	fx.Provide(New),
)

// Authorizer maps API keys to casbin subjects and checks their permissions.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	keys     map[string]string // fingerprint -> subject
	enabled  bool
	log      *zap.Logger
}

// New loads the RBAC policies stored through the gorm adapter, adds the
// built-in ones and binds every configured API key to its role.
func New(cfg config.Config, db *gorm.DB, log *zap.Logger) (*Authorizer, error) {
	log = log.Named("authorization")
	a := &Authorizer{keys: map[string]string{}, enabled: cfg.Auth.Enabled, log: log}
	if !a.enabled {
		log.Warn("api key authorization disabled")
		return a, nil
	}

	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("casbin adapter: %w", err)
	}
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("casbin enforcer: %w", err)
	}
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	a.enforcer = enforcer

	for _, p := range defaultPolicies {
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("add policy %v: %w", p, err)
		}
	}
	for _, g := range defaultRoleInheritance {
		if _, err := enforcer.AddGroupingPolicy(g[0], g[1]); err != nil {
			return nil, fmt.Errorf("add role %v: %w", g, err)
		}
	}

	for key, role := range cfg.Auth.APIKeys {
		if key == "" || role == "" {
			continue
		}
		fp := Fingerprint(key)
		subject := "key:" + fp
		if _, err := enforcer.AddGroupingPolicy(subject, role); err != nil {
			return nil, fmt.Errorf("bind api key to role %s: %w", role, err)
		}
		a.keys[fp] = subject
	}
	log.Info("api key authorization ready", zap.Int("keys", len(a.keys)))
	return a, nil
}

func (a *Authorizer) Enabled() bool { return a != nil && a.enabled }

// Fingerprint identifies an API key without keeping the raw value around.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// Subject returns the casbin subject for a raw API key.
func (a *Authorizer) Subject(key string) (string, error) {
	if key == "" {
		return "", ErrUnauthorized
	}
	fp := Fingerprint(key)
	for known, subject := range a.keys {
		if subtle.ConstantTimeCompare([]byte(known), []byte(fp)) == 1 {
			return subject, nil
		}
	}
	return "", ErrUnauthorized
}

// Authorize checks that subject may perform action on object.
func (a *Authorizer) Authorize(_ context.Context, subject, object, action string) error {
	if !a.Enabled() {
		return nil
	}
	ok, err := a.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !ok {
		a.log.Debug("request denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}
