package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/storage"
)

var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func TestLoadNotExist(t *testing.T) {
	s := storage.New(t.TempDir(), "agent-1")
	st, err := s.Load("2026-10")
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if st.Period != "2026-10" || st.Status != model.StatusDraft {
		t.Errorf("Load = %q/%q, want 2026-10/Draft", st.Period, st.Status)
	}
	if len(st.Entries) != 0 {
		t.Errorf("Load entries = %d, want 0", len(st.Entries))
	}
}

func TestLoadInvalidPeriod(t *testing.T) {
	s := storage.New(t.TempDir(), "agent-1")
	if _, err := s.Load("2026-13"); err == nil {
		t.Fatal("expected error for invalid period")
	}
}

func TestMutatePersists(t *testing.T) {
	base := t.TempDir()
	s := storage.New(base, "agent-1")

	st, err := s.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		st.Entries, _ = storage.EnsureEntryForDay(st.Entries, "2026-10-15", now)
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if len(st.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(st.Entries))
	}

	if _, err := os.Stat(filepath.Join(base, "agent-1", "2026-10.json")); err != nil {
		t.Fatalf("period file missing: %v", err)
	}

	fresh := storage.New(base, "agent-1")
	loaded, err := fresh.Load("2026-10")
	if err != nil {
		t.Fatalf("Load after Mutate: %v", err)
	}
	if len(loaded.Entries) != 1 || loaded.Entries[0].ID != st.Entries[0].ID {
		t.Errorf("loaded entries = %+v", loaded.Entries)
	}
	if loaded.Entries[0].Project != model.DefaultProject {
		t.Errorf("project = %q", loaded.Entries[0].Project)
	}
}

func TestMutateErrorLeavesStateAlone(t *testing.T) {
	s := storage.New(t.TempDir(), "agent-1")
	boom := errors.New("boom")
	_, err := s.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		st.Entries = append(st.Entries, model.NewEntry("2026-10-15", now))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	st, _ := s.Load("2026-10")
	if len(st.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(st.Entries))
	}
}

func TestMutateRecomputesStatus(t *testing.T) {
	s := storage.New(t.TempDir(), "agent-1")
	st, err := s.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		e := model.NewEntry("2026-10-15", now)
		e.Status = model.StatusSubmitted
		e.ReviewStatus = model.ReviewPending
		st.Entries = append(st.Entries, e)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != model.StatusSubmitted {
		t.Errorf("status = %q, want Submitted", st.Status)
	}
}

func TestMutateDropsRejectionNoteOnceNothingIsRejected(t *testing.T) {
	s := storage.New(t.TempDir(), "agent-1")
	e := model.NewEntry("2026-10-15", now)
	e.ReviewStatus = model.ReviewRejected
	st, err := s.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		st.Entries = append(st.Entries, e)
		st.RejectionNote = "pause oubliée"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != model.StatusRejected || st.RejectionNote != "pause oubliée" {
		t.Fatalf("state = %q/%q", st.Status, st.RejectionNote)
	}
	st, err = s.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		st.Entries[0].ReviewStatus = model.ReviewNone
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.RejectionNote != "" {
		t.Errorf("RejectionNote = %q, want empty", st.RejectionNote)
	}
}

func TestMutatePersistFailureKeepsMemory(t *testing.T) {
	base := t.TempDir()
	// A directory where the temp file should go makes the write fail.
	if err := os.MkdirAll(filepath.Join(base, "agent-1", "2026-10.json.tmp"), 0o700); err != nil {
		t.Fatal(err)
	}
	s := storage.New(base, "agent-1")

	st, err := s.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		st.Entries = append(st.Entries, model.NewEntry("2026-10-15", now))
		return nil
	})
	if !errors.Is(err, storage.ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if len(st.Entries) != 1 {
		t.Fatalf("returned entries = %d, want 1", len(st.Entries))
	}
	again, err := s.Load("2026-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Entries) != 1 {
		t.Errorf("in-memory entries = %d, want 1", len(again.Entries))
	}
}

func TestLoadCorrupt(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "agent-1")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "2026-10.json")
	if err := os.WriteFile(path, []byte("{bad json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := storage.New(base, "agent-1").Load("2026-10")
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Error("expected backup file to exist after corrupt JSON")
	}
}

func TestLoadReturnsCopy(t *testing.T) {
	s := storage.New(t.TempDir(), "agent-1")
	if _, err := s.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		st.Entries = append(st.Entries, model.NewEntry("2026-10-15", now))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Load("2026-10")
	st.Entries[0].Notes = "scribble"

	again, _ := s.Load("2026-10")
	if again.Entries[0].Notes != "" {
		t.Error("Load must not expose the cached state")
	}
}

func TestEnsureEntryForDay(t *testing.T) {
	entries, added := storage.EnsureEntryForDay(nil, "2026-10-15", now)
	if !added || len(entries) != 1 {
		t.Fatalf("first ensure: added=%v len=%d", added, len(entries))
	}
	entries, added = storage.EnsureEntryForDay(entries, "2026-10-15", now)
	if added || len(entries) != 1 {
		t.Fatalf("second ensure: added=%v len=%d", added, len(entries))
	}
	e := entries[0]
	if e.MorningStart != "10:00" || e.MorningEnd != "13:00" || e.AfternoonStart != "15:00" || e.AfternoonEnd != "19:00" {
		t.Errorf("default windows = %s-%s %s-%s", e.MorningStart, e.MorningEnd, e.AfternoonStart, e.AfternoonEnd)
	}
}

func TestPeriodsAndLocate(t *testing.T) {
	s := storage.New(t.TempDir(), "agent-1")
	var id string
	for _, p := range []string{"2026-10", "2026-09"} {
		st, err := s.Mutate(p, func(st *model.AgentPeriodState) error {
			st.Entries = append(st.Entries, model.NewEntry(p+"-01", now))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if p == "2026-09" {
			id = st.Entries[0].ID
		}
	}
	periods, err := s.Periods()
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 2 || periods[0] != "2026-09" || periods[1] != "2026-10" {
		t.Fatalf("periods = %v", periods)
	}
	got, err := s.Locate(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2026-09" {
		t.Errorf("Locate = %q, want 2026-09", got)
	}
	if _, err := s.Locate("missing"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestKey(t *testing.T) {
	if got := storage.Key("agent-1", "2026-10"); got != "agent-1:2026-10" {
		t.Errorf("Key = %q", got)
	}
}
