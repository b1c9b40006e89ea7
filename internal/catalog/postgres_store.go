package catalog

import (
	"context"
	"database/sql"

	"github.com/taskvine/taskvine/internal/pricing"
)

// PostgresStore persists service listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const serviceColumns = `id, freelancer_id, title, description,
		       base_price_pence, materials_price_pence, travel_price_pence,
		       materials_policy, active, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Service) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO services (
			id, freelancer_id, title, description,
			base_price_pence, materials_price_pence, travel_price_pence,
			materials_policy, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.FreelancerID, s.Title, nullString(s.Description),
		s.BasePricePence, s.MaterialsPricePence, s.TravelPricePence,
		string(s.MaterialsPolicy), s.Active, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Service, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanServiceRow(row)
}

func (p *PostgresStore) ListByFreelancer(ctx context.Context, freelancerID string) ([]*Service, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE freelancer_id = $1
		ORDER BY created_at DESC`, freelancerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Service
	for rows.Next() {
		s, err := scanServiceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, s *Service) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE services SET
			title = $2, description = $3,
			base_price_pence = $4, materials_price_pence = $5, travel_price_pence = $6,
			materials_policy = $7, active = $8, updated_at = $9
		WHERE id = $1`,
		s.ID, s.Title, nullString(s.Description),
		s.BasePricePence, s.MaterialsPricePence, s.TravelPricePence,
		string(s.MaterialsPolicy), s.Active, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServiceRow(r rowScanner) (*Service, error) {
	var s Service
	var desc sql.NullString
	var policy string
	err := r.Scan(
		&s.ID, &s.FreelancerID, &s.Title, &desc,
		&s.BasePricePence, &s.MaterialsPricePence, &s.TravelPricePence,
		&policy, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Description = desc.String
	s.MaterialsPolicy = pricing.MaterialsPolicy(policy)
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
