package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/sqlmw"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	unionGraphsTableName = "union_graphs"
	unionGraphColumns    = `
		id,
		status,
		resource_types,
		update_ttl_hours,
		webhook_url,
		resource_filters,
		expand_distribution_access_services,
		format,
		style,
		expand_uris,
		name,
		description,
		error_message,
		locked_by,
		locked_at,
		processing_started_at,
		processed_at,
		created_at,
		updated_at
	`
	// graph_data is only selected when a single order is read
	unionGraphColumnsWithData = unionGraphColumns + `,
		graph_data
	`
)

// UnionGraphs stores union graph orders and implements their claim / release lifecycle.
type UnionGraphs repo

func NewUnionGraphs(db *sqlmw.DB, opts ...Opt) *UnionGraphs {
	r := UnionGraphs(newRepo(db, opts...))
	return &r
}

func (u *UnionGraphs) Create(ctx context.Context, order *model.UnionGraphOrder) error {
	filters, err := marshalFilters(order.ResourceFilters)
	if err != nil {
		return err
	}

	now := u.now()
	_, err = u.db.ExecContext(ctx, `
		INSERT INTO `+unionGraphsTableName+` (
			id, status, resource_types, update_ttl_hours,
			webhook_url, resource_filters, expand_distribution_access_services,
			format, style, expand_uris, name, description,
			created_at, updated_at
		)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13);
	`,
		order.ID,
		model.OrderStatusPending.String(),
		resourceTypesArray(order.ResourceTypes),
		order.UpdateTTLHours,
		nullString(order.WebhookURL),
		filters,
		order.ExpandDistributionAccessServices,
		order.Format,
		order.Style,
		order.ExpandURIs,
		nullString(order.Name),
		nullString(order.Description),
		now,
	)
	if err != nil {
		return fmt.Errorf("inserting union graph order: %w", err)
	}

	order.Status = model.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now
	return nil
}

// Get returns the order including its graph data.
func (u *UnionGraphs) Get(ctx context.Context, id string) (*model.UnionGraphOrder, error) {
	row := u.db.QueryRowContext(ctx, `
		SELECT
			`+unionGraphColumnsWithData+`
		FROM
			`+unionGraphsTableName+`
		WHERE
			id = $1;
	`,
		id,
	)

	var order model.UnionGraphOrder
	err := scanUnionGraph(row.Scan, &order, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByConfiguration returns the order with an identical configuration, preferring
// completed orders over processing, pending and failed ones, then the most recently updated.
func (u *UnionGraphs) GetByConfiguration(ctx context.Context, conf model.OrderConfiguration) (*model.UnionGraphOrder, error) {
	filters, err := marshalFilters(conf.ResourceFilters)
	if err != nil {
		return nil, err
	}

	row := u.db.QueryRowContext(ctx, `
		SELECT
			`+unionGraphColumns+`
		FROM
			`+unionGraphsTableName+`
		WHERE
			((resource_types IS NULL AND $1::TEXT[] IS NULL) OR resource_types = $1::TEXT[])
			AND update_ttl_hours = $2
			AND ((webhook_url IS NULL AND $3::TEXT IS NULL) OR webhook_url = $3::TEXT)
			AND ((resource_filters IS NULL AND $4::JSONB IS NULL) OR resource_filters = $4::JSONB)
			AND expand_distribution_access_services = $5
			AND format = $6
			AND style = $7
			AND expand_uris = $8
		ORDER BY
			CASE status
				WHEN 'COMPLETED' THEN 1
				WHEN 'PROCESSING' THEN 2
				WHEN 'PENDING' THEN 3
				ELSE 4
			END,
			updated_at DESC
		LIMIT 1;
	`,
		resourceTypesArray(conf.ResourceTypes),
		conf.UpdateTTLHours,
		nullString(conf.WebhookURL),
		filters,
		conf.ExpandDistributionAccessServices,
		conf.Format,
		conf.Style,
		conf.ExpandURIs,
	)

	var order model.UnionGraphOrder
	err = scanUnionGraph(row.Scan, &order, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns every order, newest first, without graph data.
func (u *UnionGraphs) List(ctx context.Context) ([]model.UnionGraphOrder, error) {
	return u.query(ctx, `
		SELECT
			`+unionGraphColumns+`
		FROM
			`+unionGraphsTableName+`
		ORDER BY
			created_at DESC;
	`)
}

func (u *UnionGraphs) ListByStatus(ctx context.Context, status model.OrderStatus) ([]model.UnionGraphOrder, error) {
	return u.query(ctx, `
		SELECT
			`+unionGraphColumns+`
		FROM
			`+unionGraphsTableName+`
		WHERE
			status = $1
		ORDER BY
			created_at ASC;
	`,
		status.String(),
	)
}

func (u *UnionGraphs) CountByStatus(ctx context.Context) (map[model.OrderStatus]int64, error) {
	rows, err := u.db.QueryContext(ctx, `
		SELECT
			status,
			COUNT(*)
		FROM
			`+unionGraphsTableName+`
		GROUP BY
			status;
	`)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := lo.SliceToMap(model.OrderStatuses, func(s model.OrderStatus) (model.OrderStatus, int64) {
		return s, 0
	})
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		counts[model.OrderStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return counts, nil
}

// FindPendingForProcessing returns up to limit pending orders that are unlocked or
// whose lock is older than lockTimeout, oldest first. Rows locked by a concurrent
// selector are skipped.
func (u *UnionGraphs) FindPendingForProcessing(ctx context.Context, limit int, lockTimeout time.Duration) ([]model.UnionGraphOrder, error) {
	var orders []model.UnionGraphOrder

	err := u.db.WithTx(ctx, func(tx *sqlmw.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT
				`+unionGraphColumns+`
			FROM
				`+unionGraphsTableName+`
			WHERE
				status = $1
				AND (locked_by IS NULL OR locked_at < $2)
			ORDER BY
				created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED;
		`,
			model.OrderStatusPending.String(),
			u.now().Add(-lockTimeout),
			limit,
		)
		if err != nil {
			return fmt.Errorf("querying: %w", err)
		}
		defer func() { _ = rows.Close() }()

		orders, err = scanUnionGraphs(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Claim moves an order to PROCESSING on behalf of instanceID. It succeeds only when the
// order is PENDING, or PROCESSING under a lock older than lockTimeout. A false result
// means another instance won the race.
func (u *UnionGraphs) Claim(ctx context.Context, id, instanceID string, lockTimeout time.Duration) (bool, error) {
	now := u.now()
	res, err := u.db.ExecContext(ctx, `
		UPDATE
			`+unionGraphsTableName+`
		SET
			status = $1,
			locked_by = $2,
			locked_at = $3,
			processing_started_at = $3,
			updated_at = $3
		WHERE
			id = $4
			AND (
				status = $5
				OR (status = $1 AND locked_at < $6)
			);
	`,
		model.OrderStatusProcessing.String(),
		instanceID,
		now,
		id,
		model.OrderStatusPending.String(),
		now.Add(-lockTimeout),
	)
	if err != nil {
		return false, fmt.Errorf("claiming union graph order: %w", err)
	}
	return rowsAffected(res)
}

// MarkCompleted stores the built graph and releases the lock.
func (u *UnionGraphs) MarkCompleted(ctx context.Context, id string, graphData []byte) error {
	now := u.now()
	_, err := u.db.ExecContext(ctx, `
		UPDATE
			`+unionGraphsTableName+`
		SET
			status = $1,
			graph_data = $2,
			error_message = NULL,
			processed_at = $3,
			updated_at = $3,
			locked_by = NULL,
			locked_at = NULL
		WHERE
			id = $4;
	`,
		model.OrderStatusCompleted.String(),
		string(graphData),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking union graph order completed: %w", err)
	}
	return nil
}

func (u *UnionGraphs) MarkFailed(ctx context.Context, id, errorMessage string) error {
	now := u.now()
	_, err := u.db.ExecContext(ctx, `
		UPDATE
			`+unionGraphsTableName+`
		SET
			status = $1,
			error_message = $2,
			updated_at = $3,
			locked_by = NULL,
			locked_at = NULL
		WHERE
			id = $4;
	`,
		model.OrderStatusFailed.String(),
		errorMessage,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking union graph order failed: %w", err)
	}
	return nil
}

// ResetToPending schedules the order for a rebuild. It reports whether the order exists.
func (u *UnionGraphs) ResetToPending(ctx context.Context, id string) (bool, error) {
	res, err := u.db.ExecContext(ctx, `
		UPDATE
			`+unionGraphsTableName+`
		SET
			status = $1,
			error_message = NULL,
			locked_by = NULL,
			locked_at = NULL,
			processing_started_at = NULL,
			updated_at = $2
		WHERE
			id = $3;
	`,
		model.OrderStatusPending.String(),
		u.now(),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("resetting union graph order: %w", err)
	}
	return rowsAffected(res)
}

// FindExpired returns completed orders whose ttl has elapsed since they were processed.
func (u *UnionGraphs) FindExpired(ctx context.Context) ([]model.UnionGraphOrder, error) {
	return u.query(ctx, `
		SELECT
			`+unionGraphColumns+`
		FROM
			`+unionGraphsTableName+`
		WHERE
			status = $1
			AND update_ttl_hours > 0
			AND processed_at IS NOT NULL
			AND processed_at + MAKE_INTERVAL(hours => update_ttl_hours) <= $2
		ORDER BY
			processed_at ASC;
	`,
		model.OrderStatusCompleted.String(),
		u.now(),
	)
}

// FindStaleLocks returns processing orders locked for longer than lockTimeout.
func (u *UnionGraphs) FindStaleLocks(ctx context.Context, lockTimeout time.Duration) ([]model.UnionGraphOrder, error) {
	return u.query(ctx, `
		SELECT
			`+unionGraphColumns+`
		FROM
			`+unionGraphsTableName+`
		WHERE
			status = $1
			AND locked_at < $2
		ORDER BY
			locked_at ASC;
	`,
		model.OrderStatusProcessing.String(),
		u.now().Add(-lockTimeout),
	)
}

// ReleaseStaleLock resets a processing order to PENDING if its lock is still older than lockTimeout.
func (u *UnionGraphs) ReleaseStaleLock(ctx context.Context, id string, lockTimeout time.Duration) (bool, error) {
	now := u.now()
	res, err := u.db.ExecContext(ctx, `
		UPDATE
			`+unionGraphsTableName+`
		SET
			status = $1,
			locked_by = NULL,
			locked_at = NULL,
			processing_started_at = NULL,
			updated_at = $2
		WHERE
			id = $3
			AND status = $4
			AND locked_at < $5;
	`,
		model.OrderStatusPending.String(),
		now,
		id,
		model.OrderStatusProcessing.String(),
		now.Add(-lockTimeout),
	)
	if err != nil {
		return false, fmt.Errorf("releasing stale lock: %w", err)
	}
	return rowsAffected(res)
}

// Delete removes the order. It reports whether the order existed.
func (u *UnionGraphs) Delete(ctx context.Context, id string) (bool, error) {
	res, err := u.db.ExecContext(ctx, `
		DELETE FROM
			`+unionGraphsTableName+`
		WHERE
			id = $1;
	`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("deleting union graph order: %w", err)
	}
	return rowsAffected(res)
}

func (u *UnionGraphs) query(ctx context.Context, query string, args ...any) ([]model.UnionGraphOrder, error) {
	rows, err := u.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanUnionGraphs(rows)
}

func scanUnionGraphs(rows *sql.Rows) ([]model.UnionGraphOrder, error) {
	var orders []model.UnionGraphOrder
	for rows.Next() {
		var order model.UnionGraphOrder
		if err := scanUnionGraph(rows.Scan, &order, false); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return orders, nil
}

func scanUnionGraph(scan scanFn, order *model.UnionGraphOrder, withData bool) error {
	var (
		status              string
		resourceTypes       pq.StringArray
		webhookURL          sql.NullString
		filters             []byte
		name, description   sql.NullString
		errorMessage        sql.NullString
		lockedBy            sql.NullString
		lockedAt            sql.NullTime
		processingStartedAt sql.NullTime
		processedAt         sql.NullTime
		graphData           sql.NullString
	)

	dest := []any{
		&order.ID,
		&status,
		&resourceTypes,
		&order.UpdateTTLHours,
		&webhookURL,
		&filters,
		&order.ExpandDistributionAccessServices,
		&order.Format,
		&order.Style,
		&order.ExpandURIs,
		&name,
		&description,
		&errorMessage,
		&lockedBy,
		&lockedAt,
		&processingStartedAt,
		&processedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	}
	if withData {
		dest = append(dest, &graphData)
	}
	if err := scan(dest...); err != nil {
		return fmt.Errorf("scanning row: %w", err)
	}

	for _, rt := range resourceTypes {
		t, err := model.ParseResourceType(rt)
		if err != nil {
			return fmt.Errorf("parsing resource types: %w", err)
		}
		order.ResourceTypes = append(order.ResourceTypes, t)
	}
	if len(filters) > 0 {
		var f model.ResourceFilters
		if err := json.Unmarshal(filters, &f); err != nil {
			return fmt.Errorf("unmarshalling resource filters: %w", err)
		}
		order.ResourceFilters = f.Normalized()
	}

	order.Status = model.OrderStatus(status)
	order.WebhookURL = webhookURL.String
	order.Name = name.String
	order.Description = description.String
	order.ErrorMessage = errorMessage.String
	order.LockedBy = lockedBy.String
	order.LockedAt = nullTime(lockedAt)
	order.ProcessingStartedAt = nullTime(processingStartedAt)
	order.ProcessedAt = nullTime(processedAt)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if graphData.Valid {
		order.GraphData = []byte(graphData.String)
	}
	return nil
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// resourceTypesArray returns the sorted type names, or nil so that "all types" is stored as NULL.
func resourceTypesArray(types []model.ResourceType) any {
	if len(types) == 0 {
		return pq.StringArray(nil)
	}
	names := lo.Uniq(lo.Map(types, func(t model.ResourceType, _ int) string {
		return t.String()
	}))
	sort.Strings(names)
	return pq.StringArray(names)
}

func marshalFilters(filters *model.ResourceFilters) (any, error) {
	filters = filters.Normalized()
	if filters == nil {
		return nil, nil
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("marshalling resource filters: %w", err)
	}
	return string(b), nil
}
