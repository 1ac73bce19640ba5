package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder   = "order"
	ObjectLedger  = "payment_ledger"
	ObjectWebhook = "payment_webhook"
)

const (
	ActionOrderView     = "order.view"
	ActionLedgerView    = "payment_ledger.view"
	ActionWebhookReplay = "payment_webhook.replay"
)

const (
	RoleOps   = "ops"
	RoleAdmin = "admin"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an in-memory enforcer from the embedded model and the
// static role policies.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("role:%s", role)
	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
			zap.String("request_id", obscontext.RequestIDFromContext(ctx)),
		)
		return ErrForbidden
	}
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Ops: read-only access for payment triage
		{"role:ops", ObjectOrder, ActionOrderView},
		{"role:ops", ObjectLedger, ActionLedgerView},

		// Admin may also push a captured payload back through reconciliation
		{"role:admin", ObjectWebhook, ActionWebhookReplay},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// admin inherits every ops permission
	if _, err := enforcer.AddGroupingPolicy("role:admin", "role:ops"); err != nil {
		return err
	}
	return nil
}
