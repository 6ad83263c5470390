package discovery

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Querier runs one discovery query to completion. Satisfied by *Retrier.
type Querier interface {
	Query(ctx context.Context, queryText string) ([]Row, error)
}

// Match pairs an inventory entry with the machine it was reported from.
type Match struct {
	Machine MachineRecord
	Entry   InventoryEntry
}

// Report is the outcome of one discovery cycle.
type Report struct {
	Matched       []Match
	Unmatched     []InventoryEntry
	MachinesFound int
	EntriesFound  int
}

// Reconciler correlates the software inventory against the machine registry.
type Reconciler struct {
	querier        Querier
	machineQuery   string
	inventoryQuery string
	logger         *slog.Logger
}

// NewReconciler builds a reconciler issuing machineQuery and inventoryQuery
// through querier.
func NewReconciler(querier Querier, machineQuery, inventoryQuery string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		querier:        querier,
		machineQuery:   machineQuery,
		inventoryQuery: inventoryQuery,
		logger:         logger.With("component", "discovery-reconciler"),
	}
}

// Reconcile fetches the machine registry and the software inventory, then
// pairs every inventory entry with a machine by case-insensitive name match.
// Entries with no matching machine land in Unmatched; they are logged and
// never abort the cycle.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	var (
		machines []MachineRecord
		entries  []InventoryEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		machines, err = r.fetchMachines(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = r.fetchInventory(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Index machines by folded name; when duplicates exist the first
	// record wins.
	byFoldedName := make(map[string]MachineRecord, len(machines))
	for _, m := range machines {
		key := strings.ToLower(m.MachineName)
		if prev, seen := byFoldedName[key]; seen {
			r.logger.Warn("duplicate machine name in registry",
				"machine_name", m.MachineName,
				"kept", prev.MachineName)
			continue
		}
		byFoldedName[key] = m
	}

	report := &Report{
		MachinesFound: len(machines),
		EntriesFound:  len(entries),
	}

	for _, entry := range entries {
		machine, ok := byFoldedName[strings.ToLower(entry.Computer)]
		if !ok {
			r.logger.Warn("inventory entry has no matching machine",
				"computer", entry.Computer,
				"software_name", entry.SoftwareName)
			report.Unmatched = append(report.Unmatched, entry)
			continue
		}
		report.Matched = append(report.Matched, Match{Machine: machine, Entry: entry})
	}

	r.logger.Info("discovery cycle reconciled",
		"machines_found", report.MachinesFound,
		"entries_found", report.EntriesFound,
		"matched", len(report.Matched),
		"unmatched", len(report.Unmatched))

	return report, nil
}

// FetchRegistry runs only the machine query and returns a registry snapshot
// for exact-name resolution.
func (r *Reconciler) FetchRegistry(ctx context.Context) (*Registry, error) {
	machines, err := r.fetchMachines(ctx)
	if err != nil {
		return nil, err
	}
	return NewRegistry(machines), nil
}

func (r *Reconciler) fetchMachines(ctx context.Context) ([]MachineRecord, error) {
	rows, err := r.querier.Query(ctx, r.machineQuery)
	if err != nil {
		return nil, err
	}

	machines := make([]MachineRecord, 0, len(rows))
	for _, row := range rows {
		m, err := machineFromRow(row)
		if err != nil {
			r.logger.Warn("skipping malformed machine row", "error", err)
			continue
		}
		machines = append(machines, m)
	}
	return machines, nil
}

func (r *Reconciler) fetchInventory(ctx context.Context) ([]InventoryEntry, error) {
	rows, err := r.querier.Query(ctx, r.inventoryQuery)
	if err != nil {
		return nil, err
	}

	entries := make([]InventoryEntry, 0, len(rows))
	for _, row := range rows {
		e, err := inventoryFromRow(row)
		if err != nil {
			r.logger.Warn("skipping malformed inventory row", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
