// Package speedtest persists speed test tasks across restarts through the
// speedtest cache tier.
package speedtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/dashflow/internal/cache"
)

// Task states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Result is the measured outcome for one tested URL.
type Result struct {
	URL          string  `json:"url"`
	ServerName   string  `json:"server_name,omitempty"`
	Location     string  `json:"location,omitempty"`
	BytesRead    int64   `json:"bytes_read"`
	DurationSecs float64 `json:"duration_secs"`
	SpeedMbps    float64 `json:"speed_mbps"`
	Error        string  `json:"error,omitempty"`
}

// Task is a speed test run: the URLs under test and their results so far.
type Task struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	URLs      []string  `json:"urls"`
	Results   []Result  `json:"results,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps tasks in the speedtest cache tier. Tasks survive restarts for
// the tier's TTL; a record that no longer decodes is evicted and treated as
// missing.
type Store struct {
	Cache  cache.Store
	Logger *slog.Logger
}

// Create registers a new running task for the given URLs.
func (s *Store) Create(ctx context.Context, urls []string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		State:     StateRunning,
		URLs:      urls,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Save persists the task under its ID.
func (s *Store) Save(ctx context.Context, task *Task) error {
	task.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}
	if !s.Cache.Set(ctx, task.ID, data) {
		return fmt.Errorf("storing task %s", task.ID)
	}
	return nil
}

// Get loads a task by ID. Returns false when the task is unknown, expired,
// or no longer decodes.
func (s *Store) Get(ctx context.Context, id string) (*Task, bool) {
	data, ok := s.Cache.Get(ctx, id)
	if !ok {
		return nil, false
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		s.logger().Warn("evicting undecodable speedtest task",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		s.Cache.Delete(ctx, id)
		return nil, false
	}
	return &task, true
}

// Complete transitions the task to its terminal state with the collected
// results.
func (s *Store) Complete(ctx context.Context, id string, results []Result, failed bool) error {
	task, ok := s.Get(ctx, id)
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}

	task.Results = results
	task.State = StateCompleted
	if failed {
		task.State = StateFailed
	}
	return s.Save(ctx, task)
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
