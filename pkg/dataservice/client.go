package dataservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

const uniqueViolation = "23505"

// Observer receives the duration of every statement, labelled "<operation>:<table>".
type Observer interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// Option customises a Client.
type Option func(*Client)

// WithObserver reports statement durations to the given observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier enables Subscribe through the given notifier.
func WithNotifier(n *Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// Client is the relational Data Service: structured selects, procedure calls,
// mutations and change subscriptions over PostgreSQL.
type Client struct {
	db       *sqlx.DB
	observer Observer
	notifier *Notifier
	logger   *zap.Logger
}

// New constructs a client over an open database handle.
func New(db *sqlx.DB, opts ...Option) *Client {
	c := &Client{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DB exposes the underlying handle.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Select runs q and scans every row into dest, a pointer to a slice.
func (c *Client) Select(ctx context.Context, q Query, dest interface{}) error {
	query, args, err := buildSelect(q)
	if err != nil {
		return err
	}
	return c.observe("select", q.Table, func() error {
		return c.db.SelectContext(ctx, dest, query, args...)
	})
}

// Get runs q and scans the first row into dest. sql.ErrNoRows is returned unwrapped when nothing matches.
func (c *Client) Get(ctx context.Context, q Query, dest interface{}) error {
	q.Limit = 1
	query, args, err := buildSelect(q)
	if err != nil {
		return err
	}
	return c.observe("get", q.Table, func() error {
		return c.db.GetContext(ctx, dest, query, args...)
	})
}

// Count returns the number of rows matching q's joins and filters.
func (c *Client) Count(ctx context.Context, q Query) (int, error) {
	query, args, err := buildCount(q)
	if err != nil {
		return 0, err
	}
	var total int
	err = c.observe("count", q.Table, func() error {
		return c.db.GetContext(ctx, &total, query, args...)
	})
	return total, err
}

// Call invokes a set-returning procedure with named parameters and scans its rows into dest.
func (c *Client) Call(ctx context.Context, procedure string, params map[string]interface{}, dest interface{}) error {
	query, args, err := buildCall(procedure, params)
	if err != nil {
		return err
	}
	return c.observe("call", procedure, func() error {
		return c.db.SelectContext(ctx, dest, query, args...)
	})
}

// Insert adds one row. When dest is non-nil the stored row is scanned into it.
func (c *Client) Insert(ctx context.Context, table string, values map[string]interface{}, dest interface{}) error {
	query, args, err := buildInsert(table, values, dest != nil)
	if err != nil {
		return err
	}
	return c.observe("insert", table, func() error {
		if dest == nil {
			_, err := c.db.ExecContext(ctx, query, args...)
			return err
		}
		return c.db.GetContext(ctx, dest, query, args...)
	})
}

// Update patches the rows matching filters. When dest (a pointer to a slice) is non-nil the updated rows are scanned into it.
func (c *Client) Update(ctx context.Context, table string, filters []Filter, patch map[string]interface{}, dest interface{}) (int64, error) {
	query, args, err := buildUpdate(table, filters, patch, dest != nil)
	if err != nil {
		return 0, err
	}
	var affected int64
	err = c.observe("update", table, func() error {
		if dest == nil {
			res, err := c.db.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		}
		if err := c.db.SelectContext(ctx, dest, query, args...); err != nil {
			return err
		}
		affected = int64(sliceLen(dest))
		return nil
	})
	return affected, err
}

// Delete removes the rows matching filters and reports how many were removed.
func (c *Client) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	query, args, err := buildDelete(table, filters)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, "delete", table, query, args...)
}

// Exec runs a single raw statement, for upserts the structured helpers cannot express.
func (c *Client) Exec(ctx context.Context, label, query string, args ...interface{}) (int64, error) {
	return c.exec(ctx, "exec", label, query, args...)
}

// QueryRow runs a single raw statement and scans its first row into dest.
func (c *Client) QueryRow(ctx context.Context, label string, dest interface{}, query string, args ...interface{}) error {
	return c.observe("query", label, func() error {
		return c.db.GetContext(ctx, dest, query, args...)
	})
}

// Subscribe registers handler for change notifications on table. Event "*" matches every change type.
func (c *Client) Subscribe(table string, event Event, handler ChangeHandler) (*Subscription, error) {
	if c.notifier == nil {
		return nil, ErrNotificationsDisabled
	}
	return c.notifier.Subscribe(table, event, handler)
}

// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
func (c *Client) Unsubscribe(sub *Subscription) {
	if c.notifier == nil || sub == nil {
		return
	}
	c.notifier.Unsubscribe(sub)
}

func (c *Client) exec(ctx context.Context, operation, label, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := c.observe(operation, label, func() error {
		res, err := c.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (c *Client) observe(operation, table string, fn func() error) error {
	start := time.Now()
	err := fn()
	if c.observer != nil {
		c.observer.ObserveDBQuery(operation+":"+table, time.Since(start))
	}
	if err != nil {
		c.logger.Debug("data service statement failed", zap.String("operation", operation), zap.String("table", table), zap.Error(err))
	}
	return translate(operation, table, err)
}

func translate(operation, table string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return appErrors.WrapAs(appErrors.ErrConflict, err, fmt.Sprintf("%s already exists", table))
	}
	return fmt.Errorf("%s %s: %w", operation, table, err)
}

func sliceLen(dest interface{}) int {
	v := reflect.ValueOf(dest)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return 0
	}
	return v.Len()
}
