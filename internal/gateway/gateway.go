// Package gateway mirrors agent entries into the remote document store and
// carries the supervisor actions that act on the remote copy.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/dispute"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
	"github.com/Tiliavir/telesales-timesheet/internal/lifecycle"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

// Document field names the gateway queries on.
const (
	FieldUserID       = "userId"
	FieldReviewStatus = "reviewStatus"
	FieldPeriod       = "period"
	FieldMission      = "mission"
)

// Agent is the provenance stamped on every pushed document.
type Agent struct {
	ID      string
	Name    string
	Email   string
	Mission string
	Region  string
}

// Gateway is the remote side of the entry lifecycle.
type Gateway struct {
	store docstore.Store
	log   *slog.Logger
	now   func() time.Time
}

// New returns a gateway over store.
func New(store docstore.Store, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Gateway{store: store, log: log, now: time.Now}
}

// DocKey is the remote identity of an agent's entry.
func DocKey(userID, entryID string) string {
	return userID + "_" + entryID
}

// splitKey recovers user and entry ids from a document key. Entry ids never
// contain an underscore.
func splitKey(key string) (userID, entryID string) {
	i := strings.LastIndex(key, "_")
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}

// Push upserts e under its deterministic key. Pushing the same entry twice
// leaves one document. An existing document keeps the mission and region a
// supervisor set on it; only the fields that differ are patched.
func (g *Gateway) Push(ctx context.Context, agent Agent, period string, e model.DayEntry) error {
	key := DocKey(agent.ID, e.ID)
	row := model.SupervisorRow{
		DayEntry:   e,
		DocID:      key,
		UserID:     agent.ID,
		AgentName:  agent.Name,
		AgentEmail: agent.Email,
		Mission:    agent.Mission,
		Region:     agent.Region,
		Period:     period,
	}
	err := g.upsert(ctx, key, row)
	if err != nil {
		metricPushes.WithLabelValues("error").Inc()
		g.log.Warn("remote push failed", "doc", key, "entry", e.ID, "error", err)
		return fmt.Errorf("push %s: %w", key, err)
	}
	metricPushes.WithLabelValues("ok").Inc()
	return nil
}

func (g *Gateway) upsert(ctx context.Context, key string, row model.SupervisorRow) error {
	doc, err := g.store.Get(ctx, key)
	if errors.Is(err, docstore.ErrNotFound) {
		fields, err := docstore.ToFields(row)
		if err != nil {
			return err
		}
		_, err = g.store.Put(ctx, key, fields)
		return err
	}
	if err != nil {
		return err
	}
	if current, err := decodeRow(doc); err == nil {
		if current.Mission != "" {
			row.Mission = current.Mission
		}
		if current.Region != "" {
			row.Region = current.Region
		}
	}
	fields, err := docstore.ToFields(row)
	if err != nil {
		return err
	}
	patch := Diff(doc.Fields, fields)
	if len(patch) == 0 {
		return nil
	}
	_, err = g.store.Patch(ctx, key, patch)
	return err
}

// Remove deletes the remote copy of an entry. A copy that was never pushed is
// not an error.
func (g *Gateway) Remove(ctx context.Context, userID, entryID string) error {
	key := DocKey(userID, entryID)
	err := g.store.Delete(ctx, key)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		g.log.Warn("remote delete failed", "doc", key, "entry", entryID, "error", err)
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// InPeriod applies the period rule: the stored period when present,
// otherwise the month of the entry's day.
func InPeriod(r model.SupervisorRow, period string) bool {
	if period == "" {
		return true
	}
	if r.Period != "" {
		return r.Period == period
	}
	return timecalc.DayInPeriod(r.Day, period)
}

// AgentEntries returns the remote entries of one agent for period.
func (g *Gateway) AgentEntries(ctx context.Context, userID, period string) ([]model.DayEntry, error) {
	docs, err := g.store.Query(ctx, docstore.Query{FieldUserID: userID})
	if err != nil {
		return nil, err
	}
	return entriesIn(g.decodeRows(docs), period), nil
}

// WatchAgent streams the authoritative entries of one agent for period.
func (g *Gateway) WatchAgent(ctx context.Context, userID, period string, fn func([]model.DayEntry, error)) (docstore.Subscription, error) {
	return g.store.Watch(ctx, docstore.Query{FieldUserID: userID}, func(docs []docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(entriesIn(g.decodeRows(docs), period), nil)
	})
}

func entriesIn(rows []model.SupervisorRow, period string) []model.DayEntry {
	out := make([]model.DayEntry, 0, len(rows))
	for _, r := range rows {
		if InPeriod(r, period) {
			out = append(out, r.DayEntry)
		}
	}
	return out
}

// Spellings lists every raw review-status value stored for statuses, current
// spelling first.
func Spellings(statuses ...model.ReviewStatus) []string {
	var out []string
	for _, s := range statuses {
		out = append(out, s.Spellings()...)
	}
	return out
}

// WatchBucket streams the rows stored with one raw review-status spelling.
func (g *Gateway) WatchBucket(ctx context.Context, spelling string, fn func([]model.SupervisorRow, error)) (docstore.Subscription, error) {
	return g.store.Watch(ctx, docstore.Query{FieldReviewStatus: spelling}, func(docs []docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(g.decodeRows(docs), nil)
	})
}

// Row fetches one remote row.
func (g *Gateway) Row(ctx context.Context, docID string) (model.SupervisorRow, error) {
	doc, err := g.store.Get(ctx, docID)
	if err != nil {
		return model.SupervisorRow{}, err
	}
	return decodeRow(doc)
}

func decodeRow(doc docstore.Document) (model.SupervisorRow, error) {
	var r model.SupervisorRow
	if err := docstore.FromFields(doc.Fields, &r); err != nil {
		return model.SupervisorRow{}, fmt.Errorf("%s: %w", doc.Key, err)
	}
	user, entry := splitKey(doc.Key)
	r.DocID = doc.Key
	if r.UserID == "" {
		r.UserID = user
	}
	if r.ID == "" {
		r.ID = entry
	}
	return r, nil
}

// decodeRows keeps every row that decodes. Records that cannot be read are
// logged and skipped.
func (g *Gateway) decodeRows(docs []docstore.Document) []model.SupervisorRow {
	out := make([]model.SupervisorRow, 0, len(docs))
	for _, d := range docs {
		r, err := decodeRow(d)
		if err != nil {
			g.log.Warn("skipping unreadable remote row", "doc", d.Key, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Modify reads a row, applies fn and patches back only the fields fn
// changed, so concurrent edits of other fields are not overwritten.
func (g *Gateway) Modify(ctx context.Context, docID string, fn func(*model.SupervisorRow) error) (model.SupervisorRow, error) {
	row, err := g.Row(ctx, docID)
	if err != nil {
		return model.SupervisorRow{}, err
	}
	before, err := docstore.ToFields(row)
	if err != nil {
		return model.SupervisorRow{}, err
	}
	next := row.Clone()
	if err := fn(&next); err != nil {
		return row, err
	}
	next.DocID = row.DocID
	after, err := docstore.ToFields(next)
	if err != nil {
		return model.SupervisorRow{}, err
	}
	patch := Diff(before, after)
	if len(patch) == 0 {
		return next, nil
	}
	if _, err := g.store.Patch(ctx, docID, patch); err != nil {
		return row, fmt.Errorf("patch %s: %w", docID, err)
	}
	return next, nil
}

// Diff returns the patch that turns before into after: changed and added
// fields with their new value, removed fields as nil.
func Diff(before, after map[string]any) map[string]any {
	patch := map[string]any{}
	for k, v := range after {
		if old, ok := before[k]; !ok || !reflect.DeepEqual(old, v) {
			patch[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			patch[k] = nil
		}
	}
	return patch
}

func (g *Gateway) action(ctx context.Context, name, docID string, fn func(*model.SupervisorRow) error) (model.SupervisorRow, error) {
	row, err := g.Modify(ctx, docID, fn)
	if err != nil {
		metricActions.WithLabelValues(name, "error").Inc()
		return row, err
	}
	metricActions.WithLabelValues(name, "ok").Inc()
	g.log.Debug("supervisor action", "action", name, "doc", docID)
	return row, nil
}

// Approve approves a pending row in any spelling.
func (g *Gateway) Approve(ctx context.Context, docID, by string) (model.SupervisorRow, error) {
	now := g.now()
	return g.action(ctx, "approve", docID, func(r *model.SupervisorRow) error {
		return lifecycle.Approve(&r.DayEntry, by, now)
	})
}

// Reject rejects a pending row and hands it back to the agent.
func (g *Gateway) Reject(ctx context.Context, docID, note, by string) (model.SupervisorRow, error) {
	now := g.now()
	return g.action(ctx, "reject", docID, func(r *model.SupervisorRow) error {
		return lifecycle.Reject(&r.DayEntry, note, by, now)
	})
}

// Changes are the fields a supervisor may correct on a row. Nil fields are
// left alone.
type Changes struct {
	IncludeMorning   *bool
	MorningStart     *string
	MorningEnd       *string
	IncludeAfternoon *bool
	AfternoonStart   *string
	AfternoonEnd     *string
	Project          *string
	Notes            *string
	Mission          *string
	Region           *string
}

// Validate checks the clock and operation values of c.
func (c Changes) Validate() error {
	for _, s := range []*string{c.MorningStart, c.MorningEnd, c.AfternoonStart, c.AfternoonEnd} {
		if s == nil {
			continue
		}
		if _, err := timecalc.ParseClock(*s); err != nil {
			return err
		}
	}
	if c.Project != nil && !model.ValidProject(*c.Project) {
		return fmt.Errorf("unknown operation %q", *c.Project)
	}
	return nil
}

// Empty reports whether c sets nothing.
func (c Changes) Empty() bool {
	return c == Changes{}
}

// ApplyEntry copies the set entry fields of c onto e. Mission and region
// live on the row and are ignored.
func (c Changes) ApplyEntry(e *model.DayEntry) {
	if c.IncludeMorning != nil {
		e.IncludeMorning = *c.IncludeMorning
	}
	if c.IncludeAfternoon != nil {
		e.IncludeAfternoon = *c.IncludeAfternoon
	}
	set(&e.MorningStart, c.MorningStart)
	set(&e.MorningEnd, c.MorningEnd)
	set(&e.AfternoonStart, c.AfternoonStart)
	set(&e.AfternoonEnd, c.AfternoonEnd)
	set(&e.Project, c.Project)
	set(&e.Notes, c.Notes)
}

// Apply copies the set fields of c onto r.
func (c Changes) Apply(r *model.SupervisorRow) {
	c.ApplyEntry(&r.DayEntry)
	set(&r.Mission, c.Mission)
	set(&r.Region, c.Region)
}

func set(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

// Edit applies a supervisor correction to the editable fields of a row.
func (g *Gateway) Edit(ctx context.Context, docID string, c Changes) (model.SupervisorRow, error) {
	if err := c.Validate(); err != nil {
		return model.SupervisorRow{}, err
	}
	now := g.now()
	return g.action(ctx, "edit", docID, func(r *model.SupervisorRow) error {
		c.Apply(r)
		r.UpdatedAt = now
		return nil
	})
}

// Delete removes a row on behalf of a supervisor.
func (g *Gateway) Delete(ctx context.Context, docID string) error {
	if err := g.store.Delete(ctx, docID); err != nil {
		metricActions.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("delete %s: %w", docID, err)
	}
	metricActions.WithLabelValues("delete", "ok").Inc()
	return nil
}

// OpenDispute raises a claim on an approved row.
func (g *Gateway) OpenDispute(ctx context.Context, docID, note, actor string) (model.SupervisorRow, error) {
	now := g.now()
	return g.action(ctx, "dispute_open", docID, func(r *model.SupervisorRow) error {
		return dispute.Open(&r.DayEntry, note, actor, now)
	})
}

// CancelDispute withdraws an open claim.
func (g *Gateway) CancelDispute(ctx context.Context, docID string) (model.SupervisorRow, error) {
	now := g.now()
	return g.action(ctx, "dispute_cancel", docID, func(r *model.SupervisorRow) error {
		return dispute.Cancel(&r.DayEntry, now)
	})
}

// ResolveClaim closes an open claim, accepting or dismissing it.
func (g *Gateway) ResolveClaim(ctx context.Context, docID, comment, actor string, accepted bool) (model.SupervisorRow, error) {
	now := g.now()
	return g.action(ctx, "claim_resolve", docID, func(r *model.SupervisorRow) error {
		return dispute.Resolve(&r.DayEntry, comment, actor, accepted, now)
	})
}
