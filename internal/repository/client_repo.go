package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"invoicing-backend/internal/models"
)

// foreignKeyViolation is the SQLSTATE for a violated foreign key.
const foreignKeyViolation = "23503"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type ClientRepo struct {
	pool *pgxpool.Pool
}

func NewClientRepo(pool *pgxpool.Pool) *ClientRepo {
	return &ClientRepo{pool: pool}
}

const clientColumns = `id, name, email, phone, address, created_at, updated_at`

func scanClient(row pgx.Row) (*models.Client, error) {
	c := &models.Client{}
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ClientRepo) Create(ctx context.Context, c *models.Client) error {
	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := r.pool.Exec(ctx,
		`INSERT INTO clients (id, name, email, phone, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// Update overwrites a client's editable fields.
func (r *ClientRepo) Update(ctx context.Context, c *models.Client) error {
	c.UpdatedAt = time.Now().UTC()
	err := r.pool.QueryRow(ctx,
		`UPDATE clients SET name = $1, email = $2, phone = $3, address = $4, updated_at = $5
		 WHERE id = $6 RETURNING created_at`,
		c.Name, c.Email, c.Phone, c.Address, c.UpdatedAt, c.ID,
	).Scan(&c.CreatedAt)
	return notFound(err)
}

// Delete removes a client. Clients that still have invoices cannot be
// deleted and yield *models.ConflictError.
func (r *ClientRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM clients WHERE id = $1", id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return &models.ConflictError{Message: "Client has invoices and cannot be deleted"}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ClientRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ClientRepo) List(ctx context.Context) ([]*models.Client, error) {
	return r.query(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY name ASC")
}

// Search matches clients whose name contains q, case-insensitively. Exact
// matches sort first so callers taking the first result get the closest one.
func (r *ClientRepo) Search(ctx context.Context, q string) ([]*models.Client, error) {
	return r.query(ctx,
		"SELECT "+clientColumns+` FROM clients WHERE name ILIKE $1
		 ORDER BY (LOWER(name) = LOWER($2)) DESC, name ASC`,
		"%"+q+"%", q,
	)
}

func (r *ClientRepo) query(ctx context.Context, sql string, args ...any) ([]*models.Client, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := []*models.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
