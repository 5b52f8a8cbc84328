// Package processor runs the photo verification pipeline: fetch the uploaded
// photo, resolve its mission identity, validate the time window and district
// geofence, judge it with the vision model, and record the outcome in the
// progress store. A batch ends with a reconciliation pass that writes the
// completion marker for any user whose aggregate reached all steps.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halsaram/mission-pipeline/internal/capture"
	"github.com/halsaram/mission-pipeline/internal/geofence"
	"github.com/halsaram/mission-pipeline/internal/imageprep"
	"github.com/halsaram/mission-pipeline/internal/metrics"
	"github.com/halsaram/mission-pipeline/internal/mission"
	"github.com/halsaram/mission-pipeline/internal/progress"
	"github.com/halsaram/mission-pipeline/internal/prompt"
	"github.com/halsaram/mission-pipeline/internal/s3util"
	"github.com/halsaram/mission-pipeline/internal/verdict"
)

// advisoryGap is how far a photo's EXIF capture time may precede the mission
// start before the outcome carries a stale-photo warning. Advisory only: an
// old photo inside the window is still judged.
const advisoryGap = 12 * time.Hour

// unknownID fills log entries for photos whose mission identity could not be
// resolved, so rejects still land in the progress table.
const unknownID = "UNKNOWN"

// Record is one S3 object to process.
type Record struct {
	Bucket string
	Key    string
}

// ObjectFetcher downloads photos.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (*s3util.Object, error)
}

// VerdictClient judges a photo against a step prompt.
type VerdictClient interface {
	Judge(ctx context.Context, modelID, prompt string, image []byte, mediaType string) (verdict.Verdict, error)
}

// PromptProvider resolves the active prompt configuration.
type PromptProvider interface {
	Config(ctx context.Context) *prompt.Config
}

// Processor wires the pipeline's collaborators together.
type Processor struct {
	Objects  ObjectFetcher
	Missions mission.Catalog
	Progress progress.Store
	Prompts  PromptProvider
	Verdicts VerdictClient
	Boundary *geofence.Cache

	// Clock defaults to time.Now.
	Clock func() time.Time

	// ExtractCapture defaults to capture.Extract; tests substitute canned
	// location and time evidence for synthetic photo bytes.
	ExtractCapture func([]byte) capture.Capture
}

func (p *Processor) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// touchedPair is one (mission, user) whose aggregate may have changed this
// batch, carried into the reconciliation pass with the scoring metadata the
// completion marker records.
type touchedPair struct {
	missionID    string
	userID       string
	totalSteps   int
	difficulty   int
	participants int
}

// ProcessBatch runs every record through the pipeline, isolating per-record
// faults, then reconciles completion for every (mission, user) a fully
// processed record touched. Only a boundary that cannot be loaded at all
// fails the batch: without the geofence no photo can be validated.
func (p *Processor) ProcessBatch(ctx context.Context, records []Record) (*BatchSummary, error) {
	boundary, err := p.Boundary.Boundary(ctx)
	if err != nil {
		return nil, fmt.Errorf("load district boundary: %w", err)
	}
	cfg := p.Prompts.Config(ctx)

	batchID := uuid.NewString()
	logger := log.With().Str("batchId", batchID).Logger()
	logger.Info().Int("records", len(records)).Str("promptKey", cfg.ResolvedKey).Msg("Processing photo batch")

	summary := &BatchSummary{}
	touched := make(map[string]touchedPair)
	approved, rejected, completions := 0, 0, 0

	for _, rec := range records {
		res, pair, completedNow := p.processRecord(ctx, boundary, cfg, rec)
		summary.Results = append(summary.Results, res)
		switch res.Status {
		case progress.StatusApproved:
			approved++
		case progress.StatusRejected:
			rejected++
		}
		if completedNow {
			completions++
		}
		if pair != nil {
			touched[pair.missionID+"/"+pair.userID] = *pair
		}
	}

	completions += p.reconcile(ctx, &logger, touched)

	metrics.New(metrics.Namespace).
		Dimension("Operation", "ProcessBatch").
		Metric("PhotosProcessed", float64(len(records)), metrics.UnitCount).
		Metric("PhotosApproved", float64(approved), metrics.UnitCount).
		Metric("PhotosRejected", float64(rejected), metrics.UnitCount).
		Metric("MissionsCompleted", float64(completions), metrics.UnitCount).
		Property("batchId", batchID).
		Flush()

	return summary, nil
}

func (p *Processor) processRecord(ctx context.Context, boundary *geofence.Boundary, cfg *prompt.Config, rec Record) (RecordResult, *touchedPair, bool) {
	res := RecordResult{Bucket: rec.Bucket, Key: rec.Key, StepIndex: -1}

	obj, err := p.Objects.Fetch(ctx, rec.Bucket, rec.Key)
	if err != nil {
		log.Error().Err(err).Str("bucket", rec.Bucket).Str("key", rec.Key).Msg("Photo fetch failed")
		res.Error = err.Error()
		return res, nil, false
	}

	ids := mission.ResolveIDs(obj.Key, obj.Metadata)
	res.MissionID = ids.MissionID
	res.UserID = ids.UserID
	if ids.HasStep {
		res.StepIndex = ids.StepIndex
	}

	// reject records a validation rejection in the progress log and finishes
	// the result. These never reach the vision model, so they report ok=false.
	// Unresolved identity fields get a placeholder so the entry still lands
	// under a queryable key.
	reject := func(reason string, details map[string]any) (RecordResult, *touchedPair, bool) {
		res.Status = progress.StatusRejected
		res.Reason = reason

		entryMission, entryUser := ids.MissionID, ids.UserID
		if entryMission == "" {
			entryMission = unknownID
		}
		if entryUser == "" {
			entryUser = unknownID
		}
		if details == nil {
			details = map[string]any{}
		}
		details["reason"] = reason
		details["s3"] = map[string]any{"bucket": obj.Bucket, "key": obj.Key}
		if err := p.Progress.AppendLog(ctx, progress.LogEntry{
			MissionID: entryMission,
			UserID:    entryUser,
			StepIndex: res.StepIndex,
			Status:    progress.StatusRejected,
			Details:   details,
			CreatedAt: p.now(),
		}); err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("Failed to record rejection")
		}
		log.Info().
			Str("missionId", entryMission).
			Str("userId", entryUser).
			Str("key", obj.Key).
			Str("reason", reason).
			Msg("Photo rejected")
		// A rejected photo cannot advance the aggregate, so it is not a
		// candidate for reconciliation.
		return res, nil, false
	}

	if ids.MissionID == "" || ids.UserID == "" || !ids.HasStep {
		return reject("mission, user or step index could not be resolved from metadata or key path", nil)
	}

	window, err := parseTimeWindow(obj.Metadata)
	if err != nil {
		return reject(fmt.Sprintf("time window unavailable: %v", err), nil)
	}

	uploaded := obj.LastModified
	if uploaded.IsZero() {
		uploaded = p.now()
	}
	uploadedEpoch := uploaded.Unix()
	windowDetails := map[string]any{
		"start":    window.start,
		"deadline": window.deadline,
		"uploaded": uploadedEpoch,
	}
	if !window.contains(uploadedEpoch) {
		return reject("photo uploaded outside the mission time window", map[string]any{"time_window": windowDetails})
	}

	extract := p.ExtractCapture
	if extract == nil {
		extract = capture.Extract
	}
	photoMeta := extract(obj.Data)
	if !photoMeta.HasGPS {
		return reject(fmt.Sprintf("photo carries no GPS metadata, cannot confirm it was taken in %s", boundary.District), nil)
	}
	if !boundary.Contains(photoMeta.Lon, photoMeta.Lat) {
		return reject(fmt.Sprintf("photo location (%.5f, %.5f) is outside the %s boundary", photoMeta.Lat, photoMeta.Lon, boundary.District),
			map[string]any{"gps": map[string]any{"lat": photoMeta.Lat, "lon": photoMeta.Lon}})
	}

	// The mission lookup comes after the cheap local checks: a photo that
	// already failed the window or geofence is rejected for that reason, not
	// for a mission it may also be missing.
	m, err := p.Missions.GetMission(ctx, ids.MissionID)
	if err != nil {
		log.Error().Err(err).Str("missionId", ids.MissionID).Msg("Mission lookup failed")
		res.Error = err.Error()
		return res, nil, false
	}
	if m == nil {
		return reject(fmt.Sprintf("mission %s is not live", ids.MissionID), nil)
	}

	exifWarning := staleCaptureWarning(photoMeta, obj.Metadata, window.start)

	stepText := m.StepText(ids.StepIndex)
	visionPrompt := prompt.BuildVisionPrompt(cfg, stepText)
	imageData, mediaType := imageprep.ShrinkForInline(obj.Data, s3util.GuessMediaType(obj.Key, obj.ContentType))

	v, err := p.Verdicts.Judge(ctx, cfg.ModelID, visionPrompt, imageData, mediaType)
	judgeOK := err == nil
	if err != nil {
		// A model outage must not approve photos, and must not lose the
		// record either: degrade to a negative verdict and log it.
		log.Error().Err(err).Str("key", obj.Key).Msg("Vision model invocation failed")
		v = verdict.Verdict{Reasons: fmt.Sprintf("model invocation failed: %v", err)}
	}

	status := progress.StatusRejected
	if v.Approved(cfg.ConfidenceThreshold) {
		status = progress.StatusApproved
	}

	details := map[string]any{
		"s3":         map[string]any{"bucket": obj.Bucket, "key": obj.Key, "uploaded_epoch": uploadedEpoch},
		"media_type": mediaType,
		"gps":        map[string]any{"lat": photoMeta.Lat, "lon": photoMeta.Lon},
		"vision": map[string]any{
			"match":      v.Match,
			"confidence": v.Confidence,
			"reasons":    v.Reasons,
			"ok":         judgeOK,
			"threshold":  cfg.ConfidenceThreshold,
		},
		"step_text":   stepText,
		"time_window": windowDetails,
		"prompt_key":  cfg.ResolvedKey,
	}
	if exifWarning != "" {
		details["exif_warning"] = exifWarning
	}

	if err := p.Progress.AppendLog(ctx, progress.LogEntry{
		MissionID: ids.MissionID,
		UserID:    ids.UserID,
		StepIndex: ids.StepIndex,
		Status:    status,
		Details:   details,
		CreatedAt: p.now(),
	}); err != nil {
		log.Error().Err(err).Str("key", obj.Key).Msg("Failed to record photo outcome")
		res.Error = err.Error()
		return res, nil, false
	}

	res.Status = status
	res.OK = true
	if status == progress.StatusRejected {
		res.Reason = v.Reasons
	}

	pair := &touchedPair{
		missionID:    ids.MissionID,
		userID:       ids.UserID,
		totalSteps:   len(m.Steps),
		difficulty:   m.Difficulty,
		participants: m.Participants,
	}

	completedNow := false
	if status == progress.StatusApproved {
		agg, err := p.Progress.ApproveStep(ctx, ids.MissionID, ids.UserID, ids.StepIndex, len(m.Steps))
		if err != nil {
			log.Error().Err(err).Str("missionId", ids.MissionID).Str("userId", ids.UserID).Msg("Aggregate update failed")
			res.Error = err.Error()
			res.OK = false
			return res, nil, false
		}
		// Attempt the marker right away with the aggregate this write
		// returned; the end-of-batch reconcile then only has cross-record
		// and crash-recovery cases left.
		completedNow = p.tryComplete(ctx, agg, m.Difficulty, m.Participants)
	}

	log.Info().
		Str("missionId", ids.MissionID).
		Str("userId", ids.UserID).
		Int("stepIndex", ids.StepIndex).
		Str("status", status).
		Float64("confidence", v.Confidence).
		Msg("Photo processed")

	return res, pair, completedNow
}

// tryComplete writes the completion marker when the aggregate shows every
// step approved, reporting whether this call created it. Shared by the
// inline per-record attempt and the end-of-batch reconciliation.
func (p *Processor) tryComplete(ctx context.Context, agg *progress.Aggregate, difficulty, participants int) bool {
	if !agg.Complete() {
		return false
	}
	won, err := p.Progress.TryComplete(ctx, agg.MissionID, agg.UserID, agg.ApprovedCount, agg.TotalSteps, map[string]any{
		"approved_steps": agg.ApprovedSteps,
		"total_steps":    agg.TotalSteps,
		"scoring_meta": map[string]any{
			"difficulty":   difficulty,
			"participants": participants,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("missionId", agg.MissionID).Str("userId", agg.UserID).Msg("Completion attempt failed")
		return false
	}
	return won
}

// reconcile re-reads the aggregate for every touched pair and attempts the
// completion marker again. It backs up the inline per-record attempt:
// completions assembled across records of the same batch, and markers a
// crashed earlier invocation failed to write, are caught here.
func (p *Processor) reconcile(ctx context.Context, logger *zerolog.Logger, touched map[string]touchedPair) int {
	completions := 0
	for _, pair := range touched {
		agg, err := p.Progress.GetAggregate(ctx, pair.missionID, pair.userID)
		if err != nil {
			logger.Warn().Err(err).Str("missionId", pair.missionID).Str("userId", pair.userID).Msg("Aggregate read failed during reconciliation")
			continue
		}
		if agg == nil {
			continue
		}
		if p.tryComplete(ctx, agg, pair.difficulty, pair.participants) {
			completions++
		}
	}
	return completions
}

// staleCaptureWarning returns an advisory when the photo was captured well
// before the mission opened. EXIF capture time is preferred; uploaders that
// strip EXIF but copy DateTimeOriginal into object metadata are covered too.
func staleCaptureWarning(photoMeta capture.Capture, meta map[string]string, startEpoch int64) string {
	takenAt := photoMeta.TakenAt
	if !photoMeta.HasTime {
		raw := meta["datetimeoriginal"]
		if raw == "" {
			return ""
		}
		t, ok := capture.ParseExifTime(raw)
		if !ok {
			return ""
		}
		takenAt = t
	}
	start := time.Unix(startEpoch, 0)
	if takenAt.Add(advisoryGap).Before(start) {
		return fmt.Sprintf("photo captured at %s, more than %s before the mission start", takenAt.UTC().Format(time.RFC3339), advisoryGap)
	}
	return ""
}
