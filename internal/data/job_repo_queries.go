package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/acme/shelfsort/internal/data/database"
	"github.com/acme/shelfsort/internal/data/pgxutil"
	"github.com/acme/shelfsort/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// normalizePagination clamps limit to [1, 1000] (default 50) and offset to >= 0.
func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, max(offset, 0)
}

func sortDirection(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

// List returns jobs newest first with optional queue, status and dedup key filters.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	limit, offset := normalizePagination(opts.Limit, opts.Offset)
	dir := sortDirection(opts.SortOrder)

	queryOpts := []database.ListQueryOption{
		database.WithColumns(jobColumnList...),
		database.WithEqualIfSet("dedup_key", opts.DedupKey),
		database.WithOrderBy("created_at", dir),
		database.WithTiebreak("id"),
		database.WithLimit(limit),
		database.WithOffset(offset),
	}
	if opts.Queue != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("queue", database.Equal, string(*opts.Queue)),
		))
	}
	if opts.Status != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("status", database.Equal, string(*opts.Status)),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("jobs", queryOpts...))

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			job, scanErr := scanJobFromRow(rows)
			if scanErr != nil {
				return scanErr
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
