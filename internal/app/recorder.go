package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

type activeRecording struct {
	rec    domain.Recording
	mu     sync.Mutex
	sink   core.Sink
	closed bool
}

func (a *activeRecording) write(p []byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false, nil
	}
	_, err := a.sink.Write(p)
	return true, err
}

// close is safe to call more than once; only the first call closes the sink.
func (a *activeRecording) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.sink.Close()
}

// Recorder owns the open recording sinks, one per call session at a time.
type Recorder struct {
	mu     sync.RWMutex
	active map[domain.CallID]*activeRecording
	calls  *keyedMutex
	store  core.RecordingStore
	sinks  core.SinkFactory
	now    func() time.Time
}

func NewRecorder(store core.RecordingStore, sinks core.SinkFactory) *Recorder {
	return &Recorder{
		active: make(map[domain.CallID]*activeRecording),
		calls:  newKeyedMutex(),
		store:  store,
		sinks:  sinks,
		now:    time.Now,
	}
}

func (r *Recorder) logger(call domain.CallID) zerolog.Logger {
	return log.With().Str("module", "app.recorder").Str("call", string(call)).Logger()
}

// Start opens a sink and a Recording row for the call. A second Start
// while one is open returns the open recording and false.
func (r *Recorder) Start(ctx context.Context, call domain.CallID) (*domain.Recording, bool, error) {
	unlock := r.calls.Lock(string(call))
	defer unlock()

	r.mu.RLock()
	existing, ok := r.active[call]
	r.mu.RUnlock()
	if ok {
		rec := existing.rec
		return &rec, false, nil
	}

	rec := domain.Recording{
		ID:            domain.RecordingID(uuid.NewString()),
		CallSessionID: call,
		StartTime:     r.now(),
	}
	sink, path, err := r.sinks.Open(call, rec.ID)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("sink").Inc()
		return nil, false, domain.Dependency("open recording sink", err)
	}
	rec.FilePath = path
	if err := r.store.CreateRecording(ctx, &rec); err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		_ = sink.Close()
		return nil, false, domain.Dependency("create recording", err)
	}

	r.mu.Lock()
	r.active[call] = &activeRecording{rec: rec, sink: sink}
	r.mu.Unlock()
	metrics.RecordingsActive.Inc()

	logger := r.logger(call)
	logger.Info().Str("recording", string(rec.ID)).Str("path", path).Msg("recording started")
	return &rec, true, nil
}

// Append writes a chunk to the open sink. Chunks for a session without an
// open sink are dropped: they may race with a call that just ended.
func (r *Recorder) Append(call domain.CallID, chunk []byte) (bool, error) {
	r.mu.RLock()
	ar, ok := r.active[call]
	r.mu.RUnlock()
	logger := r.logger(call)
	if !ok {
		logger.Warn().Int("bytes", len(chunk)).Msg("chunk dropped, no open sink")
		return false, nil
	}
	written, err := ar.write(chunk)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("sink").Inc()
		return false, domain.Dependency("write recording chunk", err)
	}
	if !written {
		logger.Warn().Int("bytes", len(chunk)).Msg("chunk dropped, sink closed")
		return false, nil
	}
	metrics.RecordingBytes.Add(float64(len(chunk)))
	return true, nil
}

// Stop closes the sink exactly once and sets the row's end time.
// It reports false if no recording was open.
func (r *Recorder) Stop(ctx context.Context, call domain.CallID) (*domain.Recording, bool, error) {
	unlock := r.calls.Lock(string(call))
	defer unlock()

	r.mu.Lock()
	ar, ok := r.active[call]
	delete(r.active, call)
	r.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	metrics.RecordingsActive.Dec()

	logger := r.logger(call)
	if err := ar.close(); err != nil {
		metrics.DependencyErrors.WithLabelValues("sink").Inc()
		logger.Error().Err(err).Msg("close recording sink")
	}
	end := r.now()
	rec := ar.rec
	rec.EndTime = &end
	if err := r.store.FinishRecording(ctx, rec.ID, end); err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return &rec, true, domain.Dependency("finish recording", err)
	}
	logger.Info().Str("recording", string(rec.ID)).Msg("recording stopped")
	return &rec, true, nil
}

func (r *Recorder) IsRecording(call domain.CallID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[call]
	return ok
}

// Active lists open recordings, oldest first.
func (r *Recorder) Active() []domain.Recording {
	r.mu.RLock()
	out := make([]domain.Recording, 0, len(r.active))
	for _, ar := range r.active {
		out = append(out, ar.rec)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Recording) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out
}

func (r *Recorder) List(ctx context.Context, call domain.CallID) ([]domain.Recording, error) {
	recs, err := r.store.ListRecordings(ctx, call)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return nil, domain.Dependency("list recordings", err)
	}
	return recs, nil
}

// StopAll finalizes every open recording; used on shutdown.
func (r *Recorder) StopAll(ctx context.Context) {
	r.mu.RLock()
	calls := make([]domain.CallID, 0, len(r.active))
	for id := range r.active {
		calls = append(calls, id)
	}
	r.mu.RUnlock()
	for _, id := range calls {
		if _, _, err := r.Stop(ctx, id); err != nil {
			logger := r.logger(id)
			logger.Error().Err(err).Msg("stop recording on shutdown")
		}
	}
}
