package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/extract"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/project"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Run limits.
const (
	MaxThreadFiles  = 20
	StepsLimit      = 50
	MessagesLimit   = 50
	maxStepInterval = 2 * time.Second
)

// RunOnce posts prompt to the worker's thread, runs its assistant and
// records the outcome as a WorkerLog. A run that does not finish within
// the poll timeout still yields a log carrying the last observed status.
func (s *Service) RunOnce(ctx context.Context, db *gorm.DB, workerID uint, prompt string) (*models.WorkerLog, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.Invalid("prompt", "prompt is required")
	}
	w, err := Get(db, workerID)
	if err != nil {
		return nil, err
	}
	if w.Assistant == nil || w.Assistant.ExternalID == nil {
		return nil, apperr.Invalid("assistant", "worker %d has no assistant with a remote id", w.ID)
	}
	log := s.log.With("worker_id", w.ID)

	inputIDs, err := inputFileIDs(db, w)
	if err != nil {
		return nil, err
	}
	storeID := s.pickVectorStore(w)

	threadID, err := s.ensureThread(ctx, db, w, inputIDs, storeID)
	if err != nil {
		return nil, err
	}
	log = log.With("thread", threadID)

	if err := s.gw.CreateThreadMessage(ctx, threadID, "user", prompt); err != nil {
		return nil, apperr.Sync("worker", "post message", err)
	}

	before, snapshotOK := s.outputFiles(ctx)
	if !snapshotOK {
		log.Warn("output file snapshot failed; diff fallback disabled")
	}

	model := w.Model
	if model == "" {
		model = w.Assistant.Model
	}
	log.Info("starting run", "assistant", *w.Assistant.ExternalID, "model", model)
	run, err := s.gw.CreateRun(ctx, threadID, *w.Assistant.ExternalID, model)
	if err != nil {
		return nil, apperr.Sync("worker", "create run", err)
	}
	run = s.pollRun(ctx, threadID, run)
	log = log.With("run", run.ID, "status", run.Status)

	if strings.EqualFold(run.Status, "completed") {
		s.settleSteps(ctx, threadID, run.ID)
	}

	text, outputIDs := s.harvestMessages(ctx, threadID, run.ID)
	outputIDs = extract.Dedupe(append(outputIDs, s.stepFileIDs(ctx, threadID, run.ID)...))

	if len(outputIDs) == 0 && snapshotOK {
		if diff := s.newOutputFiles(ctx, before, inputIDs); len(diff) > 0 {
			log.Info("output files found by diff", "files", diff)
			outputIDs = diff
		}
	}

	if text == "" {
		log.Warn("no assistant text harvested")
		text = extract.NoAnswer
	}
	vsLine := "-"
	if storeID != "" {
		vsLine = storeID
	}
	text = extract.AppendFooter(text,
		"VectorStore: "+vsLine,
		"Input Files: "+extract.JoinOrDash(inputIDs),
		"Output Files: "+extract.JoinOrDash(outputIDs),
	)

	entry := &models.WorkerLog{
		WorkerID:  w.ID,
		Input:     prompt,
		Output:    text,
		RunStatus: run.Status,
	}
	if run.ID != "" {
		id := run.ID
		entry.RunID = &id
	}
	if len(outputIDs) > 0 {
		entry.OutputFileIDs = datatypes.JSONSlice[string](outputIDs)
	}

	newFiles, err := s.mirrorOutputFiles(ctx, db, outputIDs)
	if err != nil {
		return nil, err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("worker: store log: %w", err)
		}
		for i := range newFiles {
			if err := tx.Create(&newFiles[i]).Error; err != nil {
				return fmt.Errorf("worker: store output file %s: %w", *newFiles[i].ExternalID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("run recorded", "log_id", entry.ID, "output_files", len(outputIDs))
	return entry, nil
}

// inputFileIDs returns the worker's files then the project's unembedded
// files, de-duplicated and capped at MaxThreadFiles.
func inputFileIDs(db *gorm.DB, w *models.Worker) ([]string, error) {
	var ids []string
	for _, f := range w.Files {
		if f.ExternalID != nil {
			ids = append(ids, *f.ExternalID)
		}
	}
	projectFiles, err := project.UnembeddedFiles(db, w.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, f := range projectFiles {
		if f.ExternalID != nil {
			ids = append(ids, *f.ExternalID)
		}
	}
	ids = extract.Dedupe(ids)
	if len(ids) > MaxThreadFiles {
		ids = ids[:MaxThreadFiles]
	}
	return ids, nil
}

// pickVectorStore returns the first attached store with a remote id.
func (s *Service) pickVectorStore(w *models.Worker) string {
	var usable []string
	for _, vs := range w.VectorStores {
		if vs.ExternalID != nil {
			usable = append(usable, *vs.ExternalID)
		}
	}
	if len(usable) == 0 {
		return ""
	}
	if len(usable) > 1 {
		s.log.Warn("worker has several vector stores; only the first is used",
			"worker_id", w.ID, "used", usable[0], "ignored", usable[1:])
	}
	return usable[0]
}

// ensureThread returns the worker's thread, creating it with the given
// tool resources when missing. The id is stored right away so a later
// failure does not orphan the thread.
func (s *Service) ensureThread(ctx context.Context, db *gorm.DB, w *models.Worker, fileIDs []string, storeID string) (string, error) {
	if w.ThreadID != nil && *w.ThreadID != "" {
		s.log.Debug("reusing thread", "worker_id", w.ID, "thread", *w.ThreadID)
		return *w.ThreadID, nil
	}
	var res *remote.ToolResources
	if len(fileIDs) > 0 || storeID != "" {
		res = &remote.ToolResources{FileIDs: fileIDs}
		if storeID != "" {
			res.VectorStoreIDs = []string{storeID}
		}
	}
	s.log.Info("creating thread", "worker_id", w.ID, "files", fileIDs, "vector_store", storeID)
	thread, err := s.gw.CreateThread(ctx, res)
	if err != nil {
		return "", apperr.Sync("worker", "create thread", err)
	}
	if thread.ID == "" {
		return "", apperr.Sync("worker", "create thread", fmt.Errorf("empty thread id"))
	}
	if err := db.Model(&models.Worker{}).Where("id = ?", w.ID).Update("thread_id", thread.ID).Error; err != nil {
		return "", fmt.Errorf("worker: store thread id: %w", err)
	}
	w.ThreadID = &thread.ID
	return thread.ID, nil
}

// outputFiles lists the ids of current assistant output files.
func (s *Service) outputFiles(ctx context.Context) (map[string]bool, bool) {
	files, err := s.gw.ListFiles(ctx, remote.PurposeAssistantsOutput)
	if err != nil {
		s.log.Debug("list output files failed", "error", err.Error())
		return nil, false
	}
	out := make(map[string]bool, len(files))
	for _, f := range files {
		if f.ID != "" {
			out[f.ID] = true
		}
	}
	return out, true
}

// newOutputFiles returns output files absent from before and from the
// run's input files.
func (s *Service) newOutputFiles(ctx context.Context, before map[string]bool, inputIDs []string) []string {
	files, err := s.gw.ListFiles(ctx, remote.PurposeAssistantsOutput)
	if err != nil {
		s.log.Debug("diff fallback skipped", "error", err.Error())
		return nil
	}
	input := make(map[string]bool, len(inputIDs))
	for _, id := range inputIDs {
		input[id] = true
	}
	var out []string
	for _, f := range files {
		if f.ID != "" && !before[f.ID] && !input[f.ID] {
			out = append(out, f.ID)
		}
	}
	return extract.Dedupe(out)
}

// pollRun re-fetches the run until it is terminal, the timeout elapses,
// ctx ends, or a fetch fails.
func (s *Service) pollRun(ctx context.Context, threadID string, run *remote.Run) *remote.Run {
	deadline := time.Now().Add(s.timeout)
	for !remote.IsTerminal(run.Status) {
		if !time.Now().Before(deadline) {
			s.log.Warn("run poll timed out", "run", run.ID, "status", run.Status)
			return run
		}
		if !sleepWithContext(ctx, s.interval) {
			s.log.Warn("run poll cancelled", "run", run.ID, "status", run.Status)
			return run
		}
		polled, err := s.gw.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			s.log.Warn("run poll failed", "run", run.ID, "error", err.Error())
			return run
		}
		if polled.ID == "" {
			polled.ID = run.ID
		}
		s.log.Debug("run polled", "run", run.ID, "status", polled.Status)
		run = polled
	}
	return run
}

// settleSteps waits a bounded window for every run step to be terminal.
func (s *Service) settleSteps(ctx context.Context, threadID, runID string) {
	interval := s.interval
	if interval > maxStepInterval {
		interval = maxStepInterval
	}
	deadline := time.Now().Add(s.stepsTimeout)
	for time.Now().Before(deadline) {
		steps, err := s.gw.ListRunSteps(ctx, threadID, runID, StepsLimit)
		if err != nil {
			s.log.Debug("step settle skipped", "run", runID, "error", err.Error())
			return
		}
		if allTerminal(steps) {
			return
		}
		if !sleepWithContext(ctx, interval) {
			return
		}
	}
	s.log.Debug("steps did not settle", "run", runID)
}

func allTerminal(steps []remote.RunStep) bool {
	for _, st := range steps {
		if !remote.IsTerminal(st.Status) {
			return false
		}
	}
	return true
}

// harvestMessages reads the newest thread messages. The text comes from
// the first assistant message of this run that has any; file ids are
// collected from all of them. Messages tagged with another run are skipped.
func (s *Service) harvestMessages(ctx context.Context, threadID, runID string) (string, []string) {
	msgs, err := s.gw.ListThreadMessages(ctx, threadID, "desc", MessagesLimit)
	if err != nil {
		s.log.Warn("list thread messages failed", "thread", threadID, "error", err.Error())
		return "", nil
	}
	var text string
	var ids []string
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		if m.RunID != "" && runID != "" && m.RunID != runID {
			continue
		}
		ids = append(ids, extract.MessageFileIDs(m.Body)...)
		if text == "" {
			text = extract.MessageText(m.Body)
		}
	}
	return text, ids
}

// stepFileIDs walks the run's steps for file ids.
func (s *Service) stepFileIDs(ctx context.Context, threadID, runID string) []string {
	steps, err := s.gw.ListRunSteps(ctx, threadID, runID, StepsLimit)
	if err != nil {
		s.log.Debug("list run steps failed", "run", runID, "error", err.Error())
		return nil
	}
	var ids []string
	for _, st := range steps {
		ids = append(ids, extract.FileIDs(st.Body)...)
	}
	return ids
}

// mirrorOutputFiles builds File rows for output ids not mirrored locally.
// Ids whose metadata cannot be fetched are skipped.
func (s *Service) mirrorOutputFiles(ctx context.Context, db *gorm.DB, ids []string) ([]models.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var known []string
	if err := db.Model(&models.File{}).Where("external_id IN ?", ids).Pluck("external_id", &known).Error; err != nil {
		return nil, fmt.Errorf("worker: check output files: %w", err)
	}
	have := make(map[string]bool, len(known))
	for _, id := range known {
		have[id] = true
	}

	var out []models.File
	for _, id := range ids {
		if have[id] {
			continue
		}
		meta, err := s.gw.RetrieveFile(ctx, id)
		if err != nil {
			s.log.Warn("output file metadata unavailable", "file", id, "error", err.Error())
			continue
		}
		name := meta.Filename
		if name == "" {
			name = "output_" + prefix(id, 8) + ".txt"
		}
		ext := id
		out = append(out, models.File{
			ExternalID: &ext,
			Filename:   name,
			Purpose:    remote.PurposeAssistants,
			Bytes:      meta.Bytes,
		})
	}
	return out, nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sleepWithContext waits for d and reports false if ctx ended first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
