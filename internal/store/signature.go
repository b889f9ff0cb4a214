package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/inbox/internal/signature"
)

// SaveSignature inserts or replaces a template. Templates list in position
// order, which is the "first eligible" order of signature selection.
func (db *DB) SaveSignature(ctx context.Context, t signature.Template, position int) error {
	if t.ID == "" {
		return fmt.Errorf("save signature: empty id")
	}
	links, err := json.Marshal(t.Links)
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	scope := t.Scope
	if scope == "" {
		scope = signature.ScopeAll
	}
	variant := t.Variant
	if variant == "" {
		variant = signature.VariantPlain
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO signatures (id, name, scope, variant, active, is_default, body, links_json, logo_url, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scope = excluded.scope,
			variant = excluded.variant,
			active = excluded.active,
			is_default = excluded.is_default,
			body = excluded.body,
			links_json = excluded.links_json,
			logo_url = excluded.logo_url,
			position = excluded.position`,
		t.ID, t.Name, scope, variant, t.Active, t.Default, t.Body, string(links), t.LogoURL, position)
	return err
}

// ListSignatures returns all templates in position order.
func (db *DB) ListSignatures(ctx context.Context) ([]signature.Template, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, scope, variant, active, is_default, body, links_json, logo_url
		FROM signatures ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	templates := []signature.Template{}
	for rows.Next() {
		var (
			t     signature.Template
			links string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Scope, &t.Variant, &t.Active, &t.Default, &t.Body, &links, &t.LogoURL); err != nil {
			return nil, err
		}
		if links != "" && links != "null" {
			if err := json.Unmarshal([]byte(links), &t.Links); err != nil {
				return nil, fmt.Errorf("decode links of %q: %w", t.ID, err)
			}
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteSignature removes a template.
func (db *DB) DeleteSignature(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM signatures WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "signature", id)
}
