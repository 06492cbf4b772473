package zone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecozone/authcore/internal/infrastructure/database"
)

// Repository defines zone persistence operations.
type Repository interface {
	Create(ctx context.Context, z *Zone) error
	Ensure(ctx context.Context, name, description string) (*Zone, error)
	GetByName(ctx context.Context, name string) (*Zone, error)
	List(ctx context.Context) ([]Zone, error)
	ValidateNames(ctx context.Context, names []string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed zone repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a zone, generating ID and slug when absent.
func (r *SQLiteRepository) Create(ctx context.Context, z *Zone) error {
	if err := ValidateName(z.Name); err != nil {
		return err
	}
	if z.ID == "" {
		z.ID = "zone-" + uuid.NewString()
	}
	if z.Slug == "" {
		z.Slug = GenerateSlug(z.Name)
	}
	if z.CreatedAt.IsZero() {
		z.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO zones (id, name, slug, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		z.ID, z.Name, z.Slug, nullString(z.Description), database.FormatTime(z.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrZoneExists, z.Name)
		}
		return fmt.Errorf("inserting zone %s: %w", z.Name, err)
	}
	return nil
}

// Ensure returns the named zone, creating it first if it does not exist.
// Used to seed zones from configuration on every start.
func (r *SQLiteRepository) Ensure(ctx context.Context, name, description string) (*Zone, error) {
	z, err := r.GetByName(ctx, name)
	if err == nil {
		return z, nil
	}
	if !errors.Is(err, ErrZoneNotFound) {
		return nil, err
	}

	z = &Zone{Name: name, Description: description}
	if err := r.Create(ctx, z); err != nil {
		return nil, err
	}
	return z, nil
}

// GetByName looks up a zone by its exact, case-sensitive name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Zone, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, description, created_at FROM zones WHERE name = ?`, name)
	return scanZone(row)
}

// List returns all zones ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Zone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, slug, description, created_at FROM zones ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying zones: %w", err)
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, *z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating zones: %w", err)
	}
	return zones, nil
}

// ValidateNames returns ErrZoneNotFound naming the first unknown zone.
func (r *SQLiteRepository) ValidateNames(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	unique := dedupe(names)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")
	args := make([]any, len(unique))
	for i, n := range unique {
		args[i] = n
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM zones WHERE name IN (`+placeholders+`)`, args...) //nolint:gosec // Placeholders only
	if err != nil {
		return fmt.Errorf("querying zones: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(unique))
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return fmt.Errorf("scanning zone name: %w", err)
		}
		found[n] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating zones: %w", err)
	}

	for _, n := range unique {
		if !found[n] {
			return fmt.Errorf("%w: %s", ErrZoneNotFound, n)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanZone(s rowScanner) (*Zone, error) {
	var z Zone
	var desc sql.NullString
	var createdAt string

	if err := s.Scan(&z.ID, &z.Name, &z.Slug, &desc, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrZoneNotFound
		}
		return nil, fmt.Errorf("scanning zone: %w", err)
	}
	z.Description = desc.String

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("zone %s created_at: %w", z.ID, err)
	}
	z.CreatedAt = t
	return &z, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
