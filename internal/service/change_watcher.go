package service

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/pkg/dataservice"
)

// Tables whose changes affect cached report views, including the ones reports only join.
var reportTables = []string{
	"fee_payments", "expenses", "students", "student_attendance", "staff_attendance",
	"student_fees", "families", "users",
}

const (
	userRolesTable       = "user_roles"
	rolePermissionsTable = "role_permissions"
)

type changeSource interface {
	Subscribe(table string, event dataservice.Event, handler dataservice.ChangeHandler) (*dataservice.Subscription, error)
	Unsubscribe(sub *dataservice.Subscription)
}

type reportCacheInvalidator interface {
	InvalidateCache(ctx context.Context) error
}

type permissionCacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string)
	InvalidateAll(ctx context.Context)
}

// ChangeWatcher turns table change notifications into cache invalidations.
type ChangeWatcher struct {
	source  changeSource
	reports reportCacheInvalidator
	perms   permissionCacheInvalidator
	metrics *MetricsService
	logger  *zap.Logger

	mu   sync.Mutex
	subs []*dataservice.Subscription
}

// NewChangeWatcher constructs a watcher; call Start to subscribe.
func NewChangeWatcher(source changeSource, reports reportCacheInvalidator, perms permissionCacheInvalidator, metrics *MetricsService, logger *zap.Logger) *ChangeWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeWatcher{source: source, reports: reports, perms: perms, metrics: metrics, logger: logger}
}

// Start subscribes to every watched table. On failure nothing stays subscribed.
func (w *ChangeWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	subscribe := func(table string, handler dataservice.ChangeHandler) error {
		sub, err := w.source.Subscribe(table, dataservice.EventAll, handler)
		if err != nil {
			return err
		}
		w.subs = append(w.subs, sub)
		return nil
	}

	for _, table := range reportTables {
		if err := subscribe(table, w.onReportChange(table)); err != nil {
			w.unsubscribeLocked()
			return err
		}
	}
	if err := subscribe(userRolesTable, w.onUserRoleChange); err != nil {
		w.unsubscribeLocked()
		return err
	}
	if err := subscribe(rolePermissionsTable, w.onRolePermissionChange); err != nil {
		w.unsubscribeLocked()
		return err
	}
	w.logger.Info("change watcher subscribed", zap.Int("subscriptions", len(w.subs)))
	return nil
}

// Stop removes every subscription.
func (w *ChangeWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsubscribeLocked()
}

func (w *ChangeWatcher) unsubscribeLocked() {
	for _, sub := range w.subs {
		w.source.Unsubscribe(sub)
	}
	w.subs = nil
}

func (w *ChangeWatcher) onReportChange(table string) dataservice.ChangeHandler {
	return func(ctx context.Context, change dataservice.Change) error {
		w.metrics.RecordChangeNotification(table)
		w.logger.Debug("report source changed", zap.String("table", table), zap.String("type", string(change.Type)))
		return w.reports.InvalidateCache(ctx)
	}
}

func (w *ChangeWatcher) onUserRoleChange(ctx context.Context, change dataservice.Change) error {
	w.metrics.RecordChangeNotification(userRolesTable)
	var record struct {
		UserID string `json:"user_id"`
	}
	if change.Type != dataservice.EventResync && len(change.Record) > 0 {
		if err := json.Unmarshal(change.Record, &record); err != nil {
			w.logger.Warn("unreadable user_roles record", zap.Error(err))
		}
	}
	if record.UserID == "" {
		w.perms.InvalidateAll(ctx)
		return nil
	}
	w.perms.InvalidateUser(ctx, record.UserID)
	return nil
}

func (w *ChangeWatcher) onRolePermissionChange(ctx context.Context, _ dataservice.Change) error {
	w.metrics.RecordChangeNotification(rolePermissionsTable)
	w.perms.InvalidateAll(ctx)
	return nil
}
