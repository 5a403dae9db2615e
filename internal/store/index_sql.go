// index_sql.go maintains the typed index tables inside write transactions.
//
// Index rows describe only the current version of a resource. Every write
// deletes the old rows and inserts the freshly extracted set in the same
// transaction as the version row, which is what keeps searches and
// documents consistent under concurrent access.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jpl-au/fhird/internal/index"
)

// indexTables lists every table holding per-resource index rows.
var indexTables = []string{
	"token_index", "string_index", "date_index", "ref_index",
	"quantity_index", "number_index", "uri_index", "geo_index",
}

// deleteIndexRows removes all index rows for one resource.
func deleteIndexRows(ctx context.Context, tx *sql.Tx, resourceType, id string) error {
	for _, table := range indexTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE type = ? AND id = ?`, resourceType, id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// insertIndexRows writes one extracted row set for one resource.
func insertIndexRows(ctx context.Context, tx *sql.Tx, resourceType, id string, set *index.Set) error {
	for _, r := range set.Tokens {
		_, err := tx.ExecContext(ctx, `INSERT INTO token_index (type, id, param, occurrence, system, code, text)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.System, r.Code, r.Text)
		if err != nil {
			return fmt.Errorf("index token %s: %w", r.Param, err)
		}
	}
	for _, r := range set.Strings {
		_, err := tx.ExecContext(ctx, `INSERT INTO string_index (type, id, param, occurrence, value, original)
			VALUES (?, ?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.Value, r.Original)
		if err != nil {
			return fmt.Errorf("index string %s: %w", r.Param, err)
		}
	}
	for _, r := range set.Dates {
		_, err := tx.ExecContext(ctx, `INSERT INTO date_index (type, id, param, occurrence, start_ms, end_ms, precision, is_range)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.Start, r.End, r.Precision, r.IsRange)
		if err != nil {
			return fmt.Errorf("index date %s: %w", r.Param, err)
		}
	}
	for _, r := range set.Refs {
		_, err := tx.ExecContext(ctx, `INSERT INTO ref_index (type, id, param, occurrence, target_type, target_id, urn, url, ident_system, ident_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.TargetType, r.TargetID, r.URN, r.URL, r.IdentSystem, r.IdentValue)
		if err != nil {
			return fmt.Errorf("index reference %s: %w", r.Param, err)
		}
	}
	for _, r := range set.Quantities {
		_, err := tx.ExecContext(ctx, `INSERT INTO quantity_index (type, id, param, occurrence, value, system, code, unit, canon_unit, canon_value, has_canon)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.Value, r.System, r.Code, r.Unit, r.CanonUnit, r.CanonValue, r.HasCanon)
		if err != nil {
			return fmt.Errorf("index quantity %s: %w", r.Param, err)
		}
	}
	for _, r := range set.Numbers {
		_, err := tx.ExecContext(ctx, `INSERT INTO number_index (type, id, param, occurrence, value)
			VALUES (?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.Value)
		if err != nil {
			return fmt.Errorf("index number %s: %w", r.Param, err)
		}
	}
	for _, r := range set.URIs {
		_, err := tx.ExecContext(ctx, `INSERT INTO uri_index (type, id, param, occurrence, value)
			VALUES (?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.Value)
		if err != nil {
			return fmt.Errorf("index uri %s: %w", r.Param, err)
		}
	}
	for _, r := range set.Geos {
		_, err := tx.ExecContext(ctx, `INSERT INTO geo_index (type, id, param, occurrence, lat, lon)
			VALUES (?, ?, ?, ?, ?, ?)`,
			resourceType, id, r.Param, r.Occurrence, r.Lat, r.Lon)
		if err != nil {
			return fmt.Errorf("index position %s: %w", r.Param, err)
		}
	}
	return nil
}
