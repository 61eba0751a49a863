package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
	"senseflow/pkg/cache"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// maxParallelModels bounds concurrent model runs within one dispatch
const maxParallelModels = 4

// ExecutionService resolves, selects and runs models for a dispatch request
type ExecutionService struct {
	resolver    *ResolverService
	tensors     *TensorBuilder
	fetcher     interfaces.ArtifactFetcher
	runtime     interfaces.InferenceRuntime
	store       interfaces.TimeSeriesStore
	queue       interfaces.QueueProvider
	cache       *cache.AvailabilityCache
	asyncOutput bool
	now         func() time.Time
}

// ExecutionOptions optional collaborators of the execution service
type ExecutionOptions struct {
	Queue       interfaces.QueueProvider // required when AsyncOutput is set
	Cache       *cache.AvailabilityCache
	AsyncOutput bool // persist saved outputs through the queue
}

// NewExecutionService creates a new execution service
func NewExecutionService(resolver *ResolverService, tensors *TensorBuilder, fetcher interfaces.ArtifactFetcher, runtime interfaces.InferenceRuntime, store interfaces.TimeSeriesStore, opts ExecutionOptions) *ExecutionService {
	return &ExecutionService{
		resolver:    resolver,
		tensors:     tensors,
		fetcher:     fetcher,
		runtime:     runtime,
		store:       store,
		queue:       opts.Queue,
		cache:       opts.Cache,
		asyncOutput: opts.AsyncOutput && opts.Queue != nil,
		now:         time.Now,
	}
}

// Dispatch runs the selected compatible models against the batch.
//
// With save set, outputs are persisted tagged by (user, execution, model, sensor). Without it,
// raw and output data of the execution are purged after every model has finished, whatever the
// outcome. Per-model failures are reported in the results and never abort sibling models.
func (s *ExecutionService) Dispatch(ctx context.Context, batch *model.Batch, save bool) (resp *model.DispatchResponse, err error) {
	start := time.Now()

	if err := validateDispatch(batch); err != nil {
		return nil, err
	}
	userID, executionID := stampIDs(batch)
	if len(batch.Records) > 0 {
		batch.Normalize()
		batch.PropagateIDs(userID, executionID)
	}

	ctx = logger.WithTraceID(ctx, executionID)
	mode := batch.SelectionModeOrDefault()
	format := batch.OutputFormat
	if format == "" {
		format = model.OutputFlat
	}

	if !save {
		defer func() {
			purgeErr := s.purge(context.WithoutCancel(ctx), userID, executionID)
			if resp == nil {
				if purgeErr != nil {
					logger.ErrorCtx(ctx, "purge after failed dispatch: %v", purgeErr)
				}
				return
			}
			resp.Purged = purgeErr == nil
			if purgeErr != nil {
				resp.PurgeError = purgeErr.Error()
			}
		}()
	}

	resp = &model.DispatchResponse{
		UserID:      userID,
		ExecutionID: executionID,
		Mode:        mode,
		Results:     []model.ModelResult{},
	}

	matches, err := s.resolver.ResolveBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		logger.InfoCtx(ctx, "no compatible model for user %s, sensors %v", userID, batch.Sensors())
		resp.Status = model.DispatchNoMatch
		resp.ElapsedMS = elapsedMS(start)
		return resp, nil
	}

	selected, err := Select(matches, mode, batch.ModelName)
	if err != nil {
		return nil, err
	}

	results := make([]model.ModelResult, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelModels)
	for i := range selected {
		g.Go(func() error {
			results[i] = s.runModel(gctx, &selected[i], batch, userID, executionID, save, format)
			return nil
		})
	}
	_ = g.Wait()

	resp.Results = results
	resp.Status = model.DispatchCompleted
	for i := range results {
		if results[i].Failed() {
			resp.Status = model.DispatchPartial
			break
		}
	}
	resp.ElapsedMS = elapsedMS(start)

	logger.InfoCtx(ctx, "dispatch %s: %d/%d models, mode=%s, save=%v, elapsed=%.1fms",
		resp.Status, len(selected), len(matches), mode, save, resp.ElapsedMS)
	return resp, nil
}

func validateDispatch(batch *model.Batch) error {
	if batch == nil {
		return apperr.MalformedInput("request body is required")
	}
	if len(batch.Records) > 0 {
		return batch.Validate()
	}
	// lookup path: identifiers and options only
	if batch.UserID == "" || batch.ExecutionID == "" {
		return apperr.MalformedInput("either records or user_id and execution_id are required")
	}
	probe := *batch
	probe.Records = []model.Record{{SensorID: "-", Features: []string{"-"}, Time: &model.Timestamp{}}}
	return probe.Validate()
}

func (s *ExecutionService) runModel(ctx context.Context, m *model.Match, batch *model.Batch, userID, executionID string, save bool, format model.OutputFormat) model.ModelResult {
	result := model.ModelResult{ModelName: m.ModelName, Sensors: m.Sensors}
	start := time.Now()

	fail := func(err error) model.ModelResult {
		result.Error = err.Error()
		result.ErrorKind = apperr.Kind(err)
		result.ExecTimeMS = elapsedMS(start)
		logger.WarnCtx(ctx, "model %s failed (%s): %v", m.ModelName, result.ErrorKind, err)
		return result
	}

	input, err := s.tensors.Build(ctx, m, batch, userID, executionID)
	if err != nil {
		return fail(err)
	}

	path, err := s.fetcher.Fetch(ctx, m.ModelName, m.URL)
	if err != nil {
		return fail(err)
	}
	handle, err := s.runtime.Load(ctx, path)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := handle.Close(context.WithoutCancel(ctx)); err != nil {
			logger.WarnCtx(ctx, "failed to release model %s: %v", m.ModelName, err)
		}
	}()

	inferStart := time.Now()
	output, err := handle.Run(ctx, input)
	if err != nil {
		return fail(err)
	}
	result.ExecTimeMS = elapsedMS(inferStart)

	values := make([]float64, len(output.Data))
	for i, v := range output.Data {
		values[i] = float64(v)
	}
	result.OutputShape = output.Shape
	if format == model.OutputMatrix {
		result.OutputMatrix = toMatrix(values, output.Shape)
	} else {
		result.Output = values
	}

	if save {
		payload := &model.OutputPayload{
			UserID:      userID,
			ExecutionID: executionID,
			ModelName:   m.ModelName,
			Sensor:      strings.Join(m.Sensors, ","),
			Time:        s.now().UTC(),
			Values:      result.Output,
			Matrix:      result.OutputMatrix,
		}
		if err := s.saveOutput(ctx, payload); err != nil {
			return fail(err)
		}
		result.Saved = true
	}

	logger.InfoCtx(ctx, "model %s ran in %.1fms, output shape %v", m.ModelName, result.ExecTimeMS, output.Shape)
	return result
}

func (s *ExecutionService) saveOutput(ctx context.Context, payload *model.OutputPayload) error {
	if s.asyncOutput {
		data, err := json.Marshal(model.NewOutputPayload(payload))
		if err != nil {
			return fmt.Errorf("failed to encode output payload: %w", err)
		}
		if _, err := s.queue.Enqueue(ctx, data); err != nil {
			return fmt.Errorf("failed to enqueue output: %w", err)
		}
		return nil
	}
	if err := s.store.Write(ctx, OutputPoints(payload)); err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}
	return nil
}

// purge deletes raw and output data of (userID, executionID) and drops its cached availability
func (s *ExecutionService) purge(ctx context.Context, userID, executionID string) error {
	s.cache.Invalidate(userID, executionID)
	err := purgeExecution(ctx, s.store, userID, executionID, s.now())
	s.cache.Invalidate(userID, executionID)
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "purged data of user %s execution %s", userID, executionID)
	return nil
}

// purgeExecution deletes both measurements for one execution; both deletes are always attempted
func purgeExecution(ctx context.Context, store interfaces.TimeSeriesStore, userID, executionID string, now time.Time) error {
	return purgeMeasurements(ctx, store, map[string]string{
		interfaces.TagUserID:      userID,
		interfaces.TagExecutionID: executionID,
	}, now)
}

// purgeMeasurements attempts the delete on both measurements and joins the failures; nil tags
// delete everything
func purgeMeasurements(ctx context.Context, store interfaces.TimeSeriesStore, tags map[string]string, now time.Time) error {
	var errs []error
	for _, measurement := range []string{interfaces.MeasurementSensorData, interfaces.MeasurementModelOutput} {
		if err := store.Delete(ctx, measurement, tags, time.Unix(0, 0).UTC(), now); err != nil {
			errs = append(errs, fmt.Errorf("failed to purge %s: %w", measurement, err))
		}
	}
	return errors.Join(errs...)
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
