package fingerprint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

// Recorder persists fingerprint observations and emits drift events.
type Recorder struct {
	maxDepth int
}

// NewRecorder creates a Recorder with the default recursion depth.
func NewRecorder() *Recorder {
	return &Recorder{maxDepth: DefaultMaxDepth}
}

// Record fingerprints a decoded payload for a (provider, endpoint)
// pair, appends the observation, and emits exactly one drift event
// when the hash differs from the latest prior observation. The
// "previous" lookup is global latest-by-time, never run-scoped, so
// drift stays visible across runs.
//
// The read-then-write here is not guarded; callers introducing
// provider-level parallelism must serialize per (provider, endpoint)
// to keep the one-event-per-change guarantee.
func (r *Recorder) Record(ctx context.Context, st *store.Store, providerID, endpoint string, payload any, observedAt time.Time, runID string) (bool, error) {
	newHash, paths := Fingerprint(payload, r.maxDepth)

	oldHash, err := st.LatestFingerprintHash(ctx, providerID, endpoint)
	if err != nil {
		return false, err
	}

	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return false, eris.Wrap(err, "fingerprint: marshal paths")
	}

	if err := st.InsertFingerprint(ctx, model.Fingerprint{
		ProviderID: providerID,
		Endpoint:   endpoint,
		Hash:       newHash,
		Paths:      paths,
		ObservedAt: observedAt,
		RunID:      runID,
	}, pathsJSON); err != nil {
		return false, err
	}

	if oldHash == "" || oldHash == newHash {
		return false, nil
	}

	zap.L().Info("schema drift detected",
		zap.String("provider_id", providerID),
		zap.String("endpoint", endpoint),
		zap.String("old_hash", oldHash),
		zap.String("new_hash", newHash),
	)
	if err := st.InsertDriftEvent(ctx, model.DriftEvent{
		ProviderID: providerID,
		Endpoint:   endpoint,
		OldHash:    oldHash,
		NewHash:    newHash,
		ObservedAt: observedAt,
		RunID:      runID,
		Note:       "Schema/path fingerprint changed",
	}); err != nil {
		return false, err
	}
	return true, nil
}
