package project

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// AgendaAddOptions parameterizes a new agenda item. SourceObject links a
// mirrored commitment back to its view object.
type AgendaAddOptions struct {
	Project      string
	Summary      string
	Priority     record.Priority
	DueDate      string
	SourceObject string
	DryRun       bool

	Now time.Time
	IDs record.IDSource
}

// AgendaCloseOptions closes an open item by id.
type AgendaCloseOptions struct {
	Project string
	ID      string
	DryRun  bool

	Now time.Time
}

// AgendaUpdateOptions rewrites fields of an existing item. Zero-value
// fields keep their current value.
type AgendaUpdateOptions struct {
	Project  string
	ID       string
	Summary  string
	Priority record.Priority
	DueDate  string
	DryRun   bool

	Now time.Time
}

// AgendaResult reports the ledger op as appended (or simulated).
type AgendaResult struct {
	Op     record.AgendaOp `json:"op"`
	Path   string          `json:"path"`
	DryRun bool            `json:"dry_run"`
}

// AgendaAdd appends an add op for a new item to the project's agenda
// ledger.
func AgendaAdd(st *shard.Store, opts AgendaAddOptions) (*AgendaResult, error) {
	const op = "project.agenda.add"

	if opts.Project == "" {
		return nil, fault.Validationf(op, "project must not be empty")
	}
	summary := record.NormalizeSummary(opts.Summary)
	if summary == "" {
		return nil, fault.Validationf(op, "summary must not be empty")
	}
	priority := opts.Priority
	if priority == "" {
		priority = record.PriorityMedium
	}
	if !record.ValidPriorities[priority] {
		return nil, fault.Validationf(op, "unsupported priority %q", priority)
	}
	if opts.DueDate != "" {
		if _, err := record.ParseDate(opts.DueDate); err != nil {
			return nil, fault.Validationf(op, "due_date: %v", err)
		}
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ids := opts.IDs
	if ids == nil {
		ids = record.UUIDSource{}
	}

	item := record.AgendaItem{
		ID:           ids.NewID(record.KindAgenda, now),
		Summary:      summary,
		Priority:     priority,
		DueDate:      opts.DueDate,
		SourceObject: opts.SourceObject,
		Status:       record.AgendaOpen,
	}
	return appendAgendaOp(st, op, opts.Project, record.AgendaAdd, item, now, opts.DryRun)
}

// AgendaClose appends a close op for an open item. Closing an already
// closed item is a not-found error; the ledger never records a no-op.
func AgendaClose(st *shard.Store, opts AgendaCloseOptions) (*AgendaResult, error) {
	const op = "project.agenda.close"

	item, err := agendaItem(st, op, opts.Project, opts.ID)
	if err != nil {
		return nil, err
	}
	if item.Status != record.AgendaOpen {
		return nil, fault.NotFoundf(op, opts.ID, "agenda item %s is already closed", opts.ID)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	item.Status = record.AgendaClosed
	return appendAgendaOp(st, op, opts.Project, record.AgendaClose, item, now, opts.DryRun)
}

// AgendaUpdate appends an update op carrying the item with the given
// fields rewritten.
func AgendaUpdate(st *shard.Store, opts AgendaUpdateOptions) (*AgendaResult, error) {
	const op = "project.agenda.update"

	item, err := agendaItem(st, op, opts.Project, opts.ID)
	if err != nil {
		return nil, err
	}
	if opts.Summary != "" {
		summary := record.NormalizeSummary(opts.Summary)
		if summary == "" {
			return nil, fault.Validationf(op, "summary must not be blank")
		}
		item.Summary = summary
	}
	if opts.Priority != "" {
		if !record.ValidPriorities[opts.Priority] {
			return nil, fault.Validationf(op, "unsupported priority %q", opts.Priority)
		}
		item.Priority = opts.Priority
	}
	if opts.DueDate != "" {
		if _, err := record.ParseDate(opts.DueDate); err != nil {
			return nil, fault.Validationf(op, "due_date: %v", err)
		}
		item.DueDate = opts.DueDate
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return appendAgendaOp(st, op, opts.Project, record.AgendaUpdate, item, now, opts.DryRun)
}

// AgendaList folds the ledger and returns open items, highest priority
// first, earlier due dates first within a priority, id as the final tie
// break. Empty result is an empty slice, never nil.
func AgendaList(st *shard.Store, project string) ([]record.AgendaItem, error) {
	items, err := agendaFold(st, project)
	if err != nil {
		return nil, err
	}
	open := []record.AgendaItem{}
	for _, item := range items {
		if item.Status == record.AgendaOpen {
			open = append(open, item)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		a, b := open[i], open[j]
		if pa, pb := priorityRank(a.Priority), priorityRank(b.Priority); pa != pb {
			return pa < pb
		}
		if a.DueDate != b.DueDate {
			// Items without a due date sort after dated ones.
			if a.DueDate == "" {
				return false
			}
			if b.DueDate == "" {
				return true
			}
			return a.DueDate < b.DueDate
		}
		return a.ID < b.ID
	})
	return open, nil
}

// agendaFold replays a project's agenda ledger: last op per item id wins.
func agendaFold(st *shard.Store, project string) (map[string]record.AgendaItem, error) {
	items := map[string]record.AgendaItem{}
	_, err := st.ReadLines(st.ProjectAgendaPath(project), func(l shard.Line) error {
		var row record.AgendaOp
		if json.Unmarshal(l.Raw, &row) != nil || row.Item.ID == "" {
			return nil // tolerate foreign lines, the fold only folds ours
		}
		items[row.Item.ID] = row.Item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// agendaItem folds the ledger and resolves one item by id.
func agendaItem(st *shard.Store, op, project, id string) (record.AgendaItem, error) {
	if project == "" {
		return record.AgendaItem{}, fault.Validationf(op, "project must not be empty")
	}
	if id == "" {
		return record.AgendaItem{}, fault.Validationf(op, "item id must not be empty")
	}
	items, err := agendaFold(st, project)
	if err != nil {
		return record.AgendaItem{}, err
	}
	item, ok := items[id]
	if !ok {
		return record.AgendaItem{}, fault.NotFoundf(op, id, "agenda item %s not found in project %s", id, record.Slugify(project))
	}
	return item, nil
}

func appendAgendaOp(st *shard.Store, op, project, opName string, item record.AgendaItem, now time.Time, dryRun bool) (*AgendaResult, error) {
	row := record.AgendaOp{
		Schema: record.SchemaAgenda,
		Op:     opName,
		Item:   item,
		TS:     record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return nil, fault.Validationf(op, "compute hash: %v", err)
	}
	row.Hash = hash

	path := st.ProjectAgendaPath(project)
	if !dryRun {
		if _, err := st.EnsureLayout(); err != nil {
			return nil, err
		}
		if err := st.AppendRecord(path, row); err != nil {
			return nil, err
		}
	}
	return &AgendaResult{Op: row, Path: st.Rel(path), DryRun: dryRun}, nil
}

// priorityRank orders agenda priorities for listing.
func priorityRank(p record.Priority) int {
	switch p {
	case record.PriorityHigh:
		return 0
	case record.PriorityMedium:
		return 1
	default:
		return 2
	}
}
