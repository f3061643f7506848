package postgres

import (
	"context"
	"fmt"

	"district-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// LoadCatalogue reads the district catalogue from the districts table.
func LoadCatalogue(ctx context.Context, pool *pgxpool.Pool) (domain.Catalogue, error) {
	rows, err := pool.Query(ctx, `SELECT district, province FROM districts ORDER BY district`)
	if err != nil {
		return nil, fmt.Errorf("query districts: %w", err)
	}
	defer rows.Close()

	var catalogue domain.Catalogue
	for rows.Next() {
		var entry domain.DistrictEntry
		if err := rows.Scan(&entry.District, &entry.Province); err != nil {
			return nil, fmt.Errorf("scan district: %w", err)
		}
		catalogue = append(catalogue, entry)
	}
	return catalogue, rows.Err()
}
