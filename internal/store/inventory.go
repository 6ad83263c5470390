package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fleetops/patchflow/internal/discovery"
)

// ReplaceInventory swaps the stored software inventory for the matched
// entries of one discovery cycle. The swap runs in a single transaction so
// readers never observe a half-written cycle.
func (s *Storage) ReplaceInventory(ctx context.Context, matches []discovery.Match) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin inventory transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM software_inventory`); err != nil {
		return fmt.Errorf("failed to clear inventory: %w", err)
	}

	query := `
		INSERT INTO software_inventory (
			machine_name, computer, software_name, software_version,
			publisher, vulnerability_count, collected_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, NOW()
		)
	`

	for _, m := range matches {
		if _, err := tx.ExecContext(ctx, query,
			m.Machine.MachineName,
			m.Entry.Computer,
			m.Entry.SoftwareName,
			m.Entry.SoftwareVersion,
			nullIfEmpty(m.Entry.Publisher),
			m.Entry.VulnerabilityCount,
		); err != nil {
			return fmt.Errorf("failed to insert inventory entry for %s/%s: %w",
				m.Machine.MachineName, m.Entry.SoftwareName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit inventory transaction: %w", err)
	}

	s.logger.Info("software inventory replaced",
		slog.Int("entries", len(matches)),
	)

	return nil
}

// PreviousVersion reports the last collected version of softwareName on
// machineName, or "" when the inventory has no row for that pair.
func (s *Storage) PreviousVersion(ctx context.Context, machineName, softwareName string) (string, error) {
	query := `
		SELECT software_version
		FROM software_inventory
		WHERE machine_name = $1
		  AND LOWER(software_name) = LOWER($2)
		ORDER BY collected_at DESC
		LIMIT 1
	`

	var version string
	err := s.db.QueryRowContext(ctx, query, machineName, softwareName).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up previous version: %w", err)
	}

	return version, nil
}
