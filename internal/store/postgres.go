package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const annotationColumns = `id, group_id, user_id, COALESCE(user_display_name, ''),
	COALESCE(references_json::text, '[]'), body, COALESCE(tags_json::text, '[]'),
	uri, COALESCE(quote, ''), text_position, hidden, flag_count, created_at, updated_at`

// ListAnnotations returns every annotation in a group, oldest first. An empty
// groupID lists all groups.
func (s *PostgresStore) ListAnnotations(ctx context.Context, groupID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE ($1 = '' OR group_id = $1)
		ORDER BY created_at ASC, id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, id string) (Annotation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE id=$1`, id)
	return scanAnnotation(row)
}

// UpsertAnnotation inserts or replaces an annotation. The record must carry
// a persisted id.
func (s *PostgresStore) UpsertAnnotation(ctx context.Context, item Annotation) error {
	if item.ID == "" {
		return fmt.Errorf("upsert annotation: missing id")
	}
	references, err := json.Marshal(nonNilStrings(item.References))
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	tags, err := json.Marshal(nonNilStrings(item.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	created := item.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := item.Updated
	if updated.IsZero() {
		updated = created
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, group_id, user_id, user_display_name, references_json, body, tags_json, uri, quote, text_position, hidden, flag_count, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5::jsonb, $6, $7::jsonb, $8, NULLIF($9, ''), $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			user_display_name = EXCLUDED.user_display_name,
			references_json = EXCLUDED.references_json,
			body = EXCLUDED.body,
			tags_json = EXCLUDED.tags_json,
			uri = EXCLUDED.uri,
			quote = EXCLUDED.quote,
			text_position = EXCLUDED.text_position,
			hidden = EXCLUDED.hidden,
			flag_count = EXCLUDED.flag_count,
			updated_at = EXCLUDED.updated_at
	`, item.ID, item.Group, item.User, item.UserDisplayName, string(references), item.Text, string(tags),
		item.URI, item.Quote, item.Position, item.Hidden, item.FlagCount, created, updated)
	if err != nil {
		return fmt.Errorf("upsert annotation: %w", err)
	}
	return nil
}

// DeleteAnnotation removes an annotation. Replies keep their references and
// are rendered beneath a placeholder.
func (s *PostgresStore) DeleteAnnotation(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete annotation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete annotation rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (Annotation, error) {
	var (
		item       Annotation
		references string
		tags       string
		position   sql.NullInt64
	)
	if err := row.Scan(
		&item.ID,
		&item.Group,
		&item.User,
		&item.UserDisplayName,
		&references,
		&item.Text,
		&tags,
		&item.URI,
		&item.Quote,
		&position,
		&item.Hidden,
		&item.FlagCount,
		&item.Created,
		&item.Updated,
	); err != nil {
		return Annotation{}, fmt.Errorf("scan annotation: %w", err)
	}
	if err := json.Unmarshal([]byte(references), &item.References); err != nil {
		return Annotation{}, fmt.Errorf("decode references for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return Annotation{}, fmt.Errorf("decode tags for %s: %w", item.ID, err)
	}
	if position.Valid {
		value := int(position.Int64)
		item.Position = &value
	}
	item.AnchorStatus = AnchorPending
	return item, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
