package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/dashflow/internal/mpd"
	"github.com/jmylchreest/dashflow/internal/speedtest"
)

// speedtestTimeout bounds one background speed test run.
const speedtestTimeout = 2 * time.Minute

// SpeedtestHandler runs download speed tests against upstream URLs and
// serves their results.
type SpeedtestHandler struct {
	Store      *speedtest.Store
	Downloader mpd.Downloader
	Logger     *slog.Logger
}

// StartSpeedtestInput is the input for starting a speed test.
type StartSpeedtestInput struct {
	Body struct {
		URLs []string `json:"urls" minItems:"1" doc:"URLs to measure download speed against"`
	}
}

// SpeedtestOutput wraps a task record.
type SpeedtestOutput struct {
	Body speedtest.Task
}

// GetSpeedtestInput is the input for fetching a task.
type GetSpeedtestInput struct {
	ID string `path:"id" doc:"Speed test task ID"`
}

// Register registers the speedtest routes with the API.
func (h *SpeedtestHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startSpeedtest",
		Method:      "POST",
		Path:        "/api/v1/speedtest",
		Summary:     "Start speed test",
		Description: "Starts a background download speed test against the given URLs",
		Tags:        []string{"Speedtest"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "getSpeedtest",
		Method:      "GET",
		Path:        "/api/v1/speedtest/{id}",
		Summary:     "Get speed test",
		Description: "Returns the state and results of a speed test task",
		Tags:        []string{"Speedtest"},
	}, h.Get)
}

// Start creates a task and measures the URLs in the background.
func (h *SpeedtestHandler) Start(ctx context.Context, input *StartSpeedtestInput) (*SpeedtestOutput, error) {
	task, err := h.Store.Create(ctx, input.Body.URLs)
	if err != nil {
		return nil, huma.Error500InternalServerError("creating speed test task", err)
	}

	go h.run(task.ID, input.Body.URLs)

	return &SpeedtestOutput{Body: *task}, nil
}

// Get returns a task by ID.
func (h *SpeedtestHandler) Get(ctx context.Context, input *GetSpeedtestInput) (*SpeedtestOutput, error) {
	task, ok := h.Store.Get(ctx, input.ID)
	if !ok {
		return nil, huma.Error404NotFound("speed test task not found")
	}
	return &SpeedtestOutput{Body: *task}, nil
}

// run measures each URL sequentially and records the results.
func (h *SpeedtestHandler) run(taskID string, urls []string) {
	ctx, cancel := context.WithTimeout(context.Background(), speedtestTimeout)
	defer cancel()

	results := make([]speedtest.Result, 0, len(urls))
	failed := false
	for _, u := range urls {
		start := time.Now()
		data, err := h.Downloader.Download(ctx, u, nil)
		elapsed := time.Since(start)

		result := speedtest.Result{
			URL:          u,
			BytesRead:    int64(len(data)),
			DurationSecs: elapsed.Seconds(),
		}
		if err != nil {
			result.Error = err.Error()
			failed = true
		} else if elapsed > 0 {
			result.SpeedMbps = float64(len(data)) * 8 / elapsed.Seconds() / 1e6
		}
		results = append(results, result)
	}

	if err := h.Store.Complete(ctx, taskID, results, failed); err != nil {
		h.logger().Warn("failed to record speed test results",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *SpeedtestHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
