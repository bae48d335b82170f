package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"invoice-engine/internal/insurer"
)

// InsurerDirectory implements insurer.Directory.
type InsurerDirectory struct{ s *Store }

func (d *InsurerDirectory) FindByName(ctx context.Context, name string) (insurer.Insurer, error) {
	const q = `SELECT id, name, COALESCE(email, '') FROM insurers WHERE lower(name) = lower($1)`
	return d.one(ctx, q, strings.TrimSpace(name))
}

func (d *InsurerDirectory) FindByID(ctx context.Context, id int64) (insurer.Insurer, error) {
	const q = `SELECT id, name, COALESCE(email, '') FROM insurers WHERE id = $1`
	return d.one(ctx, q, id)
}

func (d *InsurerDirectory) one(ctx context.Context, q string, arg any) (insurer.Insurer, error) {
	var ins insurer.Insurer
	if err := d.s.q(ctx).QueryRowContext(ctx, q, arg).Scan(&ins.ID, &ins.Name, &ins.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return insurer.Insurer{}, insurer.ErrNotFound
		}
		return insurer.Insurer{}, err
	}
	return ins, nil
}

func (d *InsurerDirectory) List(ctx context.Context) ([]insurer.Insurer, error) {
	const q = `SELECT id, name, COALESCE(email, '') FROM insurers ORDER BY name`
	rows, err := d.s.q(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []insurer.Insurer{}
	for rows.Next() {
		var ins insurer.Insurer
		if err := rows.Scan(&ins.ID, &ins.Name, &ins.Email); err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}
