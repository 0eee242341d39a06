package storage

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"ReviewHarvester/internal/domain"
)

const (
	colPosition  = "position"
	insertBatch  = 200
	sqlListEmpty = "[]"
)

// reviewQueries builds the statements shared by the SQL backends; only the
// placeholder format and column types differ between SQLite and Postgres.
type reviewQueries struct {
	table   string
	builder sq.StatementBuilderType
}

func newReviewQueries(table string, format sq.PlaceholderFormat) (reviewQueries, error) {
	if err := validIdentifier(table); err != nil {
		return reviewQueries{}, err
	}
	return reviewQueries{table: table, builder: sq.StatementBuilder.PlaceholderFormat(format)}, nil
}

func (q reviewQueries) selectAll() (string, []any, error) {
	return q.builder.Select(reviewColumns...).From(q.table).OrderBy(colPosition).ToSql()
}

func (q reviewQueries) deleteAll() (string, []any, error) {
	return q.builder.Delete(q.table).ToSql()
}

func (q reviewQueries) count() (string, []any, error) {
	return q.builder.Select("COUNT(*)").From(q.table).ToSql()
}

// inserts splits reviews into multi-row INSERT statements; positions keep the store order.
func (q reviewQueries) inserts(reviews []domain.Review) ([]sq.InsertBuilder, error) {
	columns := append([]string{colPosition}, reviewColumns...)

	var statements []sq.InsertBuilder
	for start := 0; start < len(reviews); start += insertBatch {
		end := min(start+insertBatch, len(reviews))
		insert := q.builder.Insert(q.table).Columns(columns...)
		for i, r := range reviews[start:end] {
			values, err := reviewValues(r)
			if err != nil {
				return nil, fmt.Errorf("review %q: %w", r.Key, err)
			}
			insert = insert.Values(append([]any{start + i}, values...)...)
		}
		statements = append(statements, insert)
	}
	return statements, nil
}

func reviewValues(r domain.Review) ([]any, error) {
	images, err := encodeSQLList(r.ImageURLs)
	if err != nil {
		return nil, err
	}
	labels, err := encodeSQLList(r.Labels)
	if err != nil {
		return nil, err
	}
	return []any{
		r.Key,
		r.Author,
		r.AuthorLink,
		r.AuthorPhoto,
		r.Rating,
		r.TimestampRaw,
		r.TimestampNormalized,
		r.Text,
		r.Permalink,
		r.HelpfulCount,
		images,
		labels,
		r.LabelConfidence,
		r.LabelRationale,
		r.Used,
		r.UsedAt,
	}, nil
}

// sqlRow receives one scanned row in reviewColumns order.
type sqlRow struct {
	review domain.Review
	images string
	labels string
}

func (row *sqlRow) targets() []any {
	r := &row.review
	return []any{
		&r.Key,
		&r.Author,
		&r.AuthorLink,
		&r.AuthorPhoto,
		&r.Rating,
		&r.TimestampRaw,
		&r.TimestampNormalized,
		&r.Text,
		&r.Permalink,
		&r.HelpfulCount,
		&row.images,
		&row.labels,
		&r.LabelConfidence,
		&r.LabelRationale,
		&r.Used,
		&r.UsedAt,
	}
}

func (row *sqlRow) finish() (domain.Review, error) {
	images, err := decodeSQLList(row.images)
	if err != nil {
		return domain.Review{}, fmt.Errorf("%s: %w", colImages, err)
	}
	labels, err := decodeSQLList(row.labels)
	if err != nil {
		return domain.Review{}, fmt.Errorf("%s: %w", colLabels, err)
	}
	r := row.review
	r.ImageURLs = images
	r.Labels = labels
	return r, nil
}

func encodeSQLList(values []string) (string, error) {
	if len(values) == 0 {
		return sqlListEmpty, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeSQLList(raw string) ([]string, error) {
	if raw == "" || raw == sqlListEmpty || raw == "null" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}
