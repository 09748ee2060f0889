package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job, err := s.Create(ctx, &interfaces.JobCreate{OwnerID: "U1", JobType: "echo", InputData: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == "" || job.Status != interfaces.StatusPending {
		t.Fatalf("created job = %+v", job)
	}

	// returned copies must not alias stored state
	job.InputData["a"] = 2
	got, err := s.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.InputData["a"] != 1 {
		t.Errorf("stored input mutated through returned job: %v", got.InputData)
	}

	before := got.UpdatedAt
	time.Sleep(time.Millisecond)
	msg := "boom"
	updated, err := s.Update(ctx, job.ID, &interfaces.JobUpdate{ErrorMessage: &msg})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ErrorMessage != "boom" || updated.Status != interfaces.StatusPending {
		t.Errorf("partial update = %+v", updated)
	}
	if !updated.UpdatedAt.After(before) {
		t.Errorf("updated_at not refreshed: %v <= %v", updated.UpdatedAt, before)
	}

	if _, err := s.Update(ctx, "missing", &interfaces.JobUpdate{}); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Update(missing) = %v", err)
	}

	ok, err := s.Delete(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, _ = s.Delete(ctx, job.ID)
	if ok {
		t.Error("second Delete reported success")
	}
	if _, err := s.GetByID(ctx, job.ID); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("GetByID after delete = %v", err)
	}
}

func TestMemoryStoreListing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var ids []string
	for i := 0; i < 5; i++ {
		j, _ := s.Create(ctx, &interfaces.JobCreate{OwnerID: "U1", JobType: "echo"})
		ids = append(ids, j.ID)
	}
	s.Create(ctx, &interfaces.JobCreate{OwnerID: "U2", JobType: "echo"})

	list, _ := s.GetByOwner(ctx, "U1", 0, 0)
	if len(list) != 5 || list[0].ID != ids[4] {
		t.Fatalf("GetByOwner = %d jobs, first %s", len(list), list[0].ID)
	}

	page, _ := s.GetByOwner(ctx, "U1", 2, 2)
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Errorf("page = %v", page)
	}

	empty, _ := s.GetByOwner(ctx, "U1", 10, 2)
	if len(empty) != 0 {
		t.Errorf("skip past end returned %d jobs", len(empty))
	}

	clamped, _ := s.GetByOwner(ctx, "U1", -3, 2)
	if len(clamped) != 2 || clamped[0].ID != ids[4] {
		t.Errorf("negative skip = %v, want the first page", clamped)
	}

	unbounded, _ := s.GetByOwner(ctx, "U1", 1, -1)
	if len(unbounded) != 4 {
		t.Errorf("negative limit returned %d jobs, want 4", len(unbounded))
	}

	pending, _ := s.GetByStatus(ctx, interfaces.StatusPending, 0, 100)
	if len(pending) != 6 {
		t.Errorf("GetByStatus = %d jobs, want 6", len(pending))
	}
}

func TestMemoryStoreSessions(t *testing.T) {
	s := NewMemoryStore()

	a, _ := s.Session(context.Background())
	b, _ := s.Session(context.Background())
	if s.OpenSessions() != 2 {
		t.Fatalf("open = %d, want 2", s.OpenSessions())
	}

	job, _ := a.Create(context.Background(), &interfaces.JobCreate{OwnerID: "U1", JobType: "echo"})
	if _, err := b.GetByID(context.Background(), job.ID); err != nil {
		t.Errorf("sessions should share data: %v", err)
	}

	a.Close()
	a.Close()
	b.Close()
	if s.OpenSessions() != 0 {
		t.Errorf("open = %d, want 0", s.OpenSessions())
	}
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		skip, limit         int
		wantSkip, wantLimit int
		wantSQL             any
	}{
		{0, 10, 0, 10, 10},
		{-5, 10, 0, 10, 10},
		{3, 0, 3, 0, nil},
		{3, -1, 3, 0, nil},
	}
	for _, tt := range tests {
		skip, limit := pageBounds(tt.skip, tt.limit)
		if skip != tt.wantSkip || limit != tt.wantLimit {
			t.Errorf("pageBounds(%d, %d) = %d, %d", tt.skip, tt.limit, skip, limit)
		}
		if got := sqlLimit(limit); got != tt.wantSQL {
			t.Errorf("sqlLimit(%d) = %v, want %v", limit, got, tt.wantSQL)
		}
	}
}
