package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/sqlmw"
)

const (
	resourcesTableName = "resources"
	resourceColumns    = `
		id,
		resource_type,
		resource_json,
		resource_json_ld,
		uri,
		timestamp,
		deleted,
		created_at,
		updated_at
	`
)

// Resources stores harvested resources. Every write is gated on the event timestamp:
// a write carrying a timestamp lower than the stored one is dropped.
type Resources repo

func NewResources(db *sqlmw.DB, opts ...Opt) *Resources {
	r := Resources(newRepo(db, opts...))
	return &r
}

func (r *Resources) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Get returns the resource with the given id. A resource stored under a different type is reported as not found.
func (r *Resources) Get(ctx context.Context, id string, resourceType model.ResourceType) (*model.Resource, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			`+resourceColumns+`
		FROM
			`+resourcesTableName+`
		WHERE
			id = $1 AND resource_type = $2;
	`,
		id,
		resourceType.String(),
	)
	return scanResourceRow(row)
}

// GetByURI returns the most recent resource of the given type published under uri.
func (r *Resources) GetByURI(ctx context.Context, uri string, resourceType model.ResourceType) (*model.Resource, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			`+resourceColumns+`
		FROM
			`+resourcesTableName+`
		WHERE
			resource_type = $1 AND uri = $2
		ORDER BY
			timestamp DESC
		LIMIT 1;
	`,
		resourceType.String(),
		uri,
	)
	return scanResourceRow(row)
}

// GetEntityByURI looks a resource up by uri regardless of its type, falling back to the uri inside the stored document.
func (r *Resources) GetEntityByURI(ctx context.Context, uri string) (*model.Resource, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			`+resourceColumns+`
		FROM
			`+resourcesTableName+`
		WHERE
			uri = $1 OR resource_json ->> 'uri' = $1
		ORDER BY
			(uri = $1) DESC NULLS LAST,
			timestamp DESC
		LIMIT 1;
	`,
		uri,
	)
	return scanResourceRow(row)
}

// FindByURIs returns the non deleted resources of the given type published under any of uris.
func (r *Resources) FindByURIs(ctx context.Context, uris []string, resourceType model.ResourceType) ([]model.Resource, error) {
	if len(uris) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			`+resourceColumns+`
		FROM
			`+resourcesTableName+`
		WHERE
			resource_type = $1 AND uri = ANY($2) AND NOT deleted
		ORDER BY
			id;
	`,
		resourceType.String(),
		pq.Array(uris),
	)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanResources(rows)
}

// ShouldUpdate reports whether an event with the given timestamp may overwrite the stored resource.
func (r *Resources) ShouldUpdate(ctx context.Context, id string, timestamp int64) (bool, error) {
	var stored int64
	err := r.db.QueryRowContext(ctx, `
		SELECT
			timestamp
		FROM
			`+resourcesTableName+`
		WHERE
			id = $1;
	`,
		id,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying: %w", err)
	}
	return timestamp >= stored, nil
}

// UpsertJSON stores the structured document of a resource. It reports whether the write was applied.
func (r *Resources) UpsertJSON(ctx context.Context, id string, resourceType model.ResourceType, doc []byte, uri string, timestamp int64) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO `+resourcesTableName+` (
			id, resource_type, resource_json, uri,
			timestamp, deleted, created_at, updated_at
		)
		VALUES
			($1, $2, $3, $4, $5, FALSE, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			resource_json = EXCLUDED.resource_json,
			uri = COALESCE(EXCLUDED.uri, `+resourcesTableName+`.uri),
			timestamp = EXCLUDED.timestamp,
			updated_at = EXCLUDED.updated_at
		WHERE
			`+resourcesTableName+`.timestamp <= EXCLUDED.timestamp;
	`,
		id,
		resourceType.String(),
		nullJSON(doc),
		nullString(uri),
		timestamp,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("upserting json: %w", err)
	}
	return rowsAffected(res)
}

// UpsertJSONLD stores the JSON-LD graph of a resource and clears any tombstone. It reports whether the write was applied.
func (r *Resources) UpsertJSONLD(ctx context.Context, id string, resourceType model.ResourceType, doc []byte, timestamp int64) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO `+resourcesTableName+` (
			id, resource_type, resource_json_ld,
			timestamp, deleted, created_at, updated_at
		)
		VALUES
			($1, $2, $3, $4, FALSE, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			resource_json_ld = EXCLUDED.resource_json_ld,
			timestamp = EXCLUDED.timestamp,
			deleted = FALSE,
			updated_at = EXCLUDED.updated_at
		WHERE
			`+resourcesTableName+`.timestamp <= EXCLUDED.timestamp;
	`,
		id,
		resourceType.String(),
		nullJSON(doc),
		timestamp,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("upserting json-ld: %w", err)
	}
	return rowsAffected(res)
}

// MarkDeleted flags a resource as deleted, creating a tombstone when it was never stored.
func (r *Resources) MarkDeleted(ctx context.Context, id string, resourceType model.ResourceType, timestamp int64) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO `+resourcesTableName+` (
			id, resource_type, timestamp,
			deleted, created_at, updated_at
		)
		VALUES
			($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			deleted = TRUE,
			timestamp = EXCLUDED.timestamp,
			updated_at = EXCLUDED.updated_at
		WHERE
			`+resourcesTableName+`.timestamp <= EXCLUDED.timestamp;
	`,
		id,
		resourceType.String(),
		timestamp,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("marking deleted: %w", err)
	}
	return rowsAffected(res)
}

// PageQuery selects the resources of one type taking part in a union graph.
type PageQuery struct {
	ResourceType   model.ResourceType
	IncludeDeleted bool
	DatasetFilters *model.DatasetFilters
}

func (q PageQuery) where(args []any) (string, []any) {
	args = append(args, q.ResourceType.String())
	conditions := []string{"resource_type = $" + strconv.Itoa(len(args))}
	if !q.IncludeDeleted {
		conditions = append(conditions, "NOT deleted")
	}
	if q.ResourceType == model.ResourceTypeDataset && !q.DatasetFilters.Empty() {
		if v := q.DatasetFilters.IsOpenData; v != nil {
			args = append(args, strconv.FormatBool(*v))
			conditions = append(conditions, "COALESCE(resource_json ->> 'isOpenData', 'false') = $"+strconv.Itoa(len(args)))
		}
		if v := q.DatasetFilters.IsRelatedToTransportportal; v != nil {
			args = append(args, strconv.FormatBool(*v))
			conditions = append(conditions, "COALESCE(resource_json ->> 'isRelatedToTransportportal', 'false') = $"+strconv.Itoa(len(args)))
		}
	}
	return strings.Join(conditions, " AND "), args
}

func (r *Resources) Count(ctx context.Context, q PageQuery) (int64, error) {
	where, args := q.where(nil)

	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)
		FROM
			`+resourcesTableName+`
		WHERE
			`+where+`;
	`,
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", q.ResourceType, err)
	}
	return count, nil
}

// Page returns up to limit resources starting at offset, in stable id order.
func (r *Resources) Page(ctx context.Context, q PageQuery, offset, limit int) ([]model.Resource, error) {
	where, args := q.where(nil)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			`+resourceColumns+`
		FROM
			`+resourcesTableName+`
		WHERE
			`+where+`
		ORDER BY
			id
		LIMIT $`+strconv.Itoa(len(args)-1)+`
		OFFSET $`+strconv.Itoa(len(args))+`;
	`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanResources(rows)
}

func scanResourceRow(row *sql.Row) (*model.Resource, error) {
	var resource model.Resource
	err := scanResource(row.Scan, &resource)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

func scanResources(rows *sql.Rows) ([]model.Resource, error) {
	var resources []model.Resource
	for rows.Next() {
		var resource model.Resource
		if err := scanResource(rows.Scan, &resource); err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return resources, nil
}

func scanResource(scan scanFn, resource *model.Resource) error {
	var (
		resourceType string
		doc, docLD   []byte
		uri          sql.NullString
	)

	if err := scan(
		&resource.ID,
		&resourceType,
		&doc,
		&docLD,
		&uri,
		&resource.Timestamp,
		&resource.Deleted,
		&resource.CreatedAt,
		&resource.UpdatedAt,
	); err != nil {
		return fmt.Errorf("scanning row: %w", err)
	}

	t, err := model.ParseResourceType(resourceType)
	if err != nil {
		return fmt.Errorf("parsing resource type: %w", err)
	}

	resource.ResourceType = t
	resource.JSON = doc
	resource.JSONLD = docLD
	resource.URI = uri.String
	resource.CreatedAt = resource.CreatedAt.UTC()
	resource.UpdatedAt = resource.UpdatedAt.UTC()
	return nil
}
