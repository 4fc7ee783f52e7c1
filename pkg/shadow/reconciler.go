package shadow

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/metrics"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

var errReportFailed = errors.New("failed to record reported shadow state")

// Shadow operation labels.
const (
	OpGet    = "get"
	OpUpdate = "update"
	OpReport = "report"
)

// Reconciler is the request/response surface over a Store. It never diffs
// desired against reported. Store failures are logged and returned as an
// empty result or false.
type Reconciler struct {
	store    Store
	deviceID string
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewReconciler creates a Reconciler whose default device is deviceID.
func NewReconciler(store Store, deviceID string, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{
		store:    store,
		deviceID: deviceID,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.With().Str("component", "ShadowReconciler").Logger(),
	}
}

// GetShadow returns the default device's desired and reported state.
func (r *Reconciler) GetShadow(ctx context.Context) (types.ShadowState, bool) {
	return r.GetShadowFor(ctx, r.deviceID)
}

// GetShadowFor returns deviceID's desired and reported state. ok is false
// when the store could not be read.
func (r *Reconciler) GetShadowFor(ctx context.Context, deviceID string) (types.ShadowState, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc, err := r.store.Get(ctx, deviceID)
	r.metrics.ShadowOp(OpGet, err == nil)
	if err != nil {
		r.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to get shadow.")
		return types.ShadowState{}, false
	}
	return doc.State, true
}

// SetDesired merges state into the default device's desired state.
func (r *Reconciler) SetDesired(ctx context.Context, state map[string]interface{}) bool {
	return r.SetDesiredFor(ctx, r.deviceID, state)
}

// SetDesiredFor merges state into deviceID's desired state. A nil value
// removes the key.
func (r *Reconciler) SetDesiredFor(ctx context.Context, deviceID string, state map[string]interface{}) bool {
	if state == nil {
		state = map[string]interface{}{}
	}
	return r.apply(ctx, OpUpdate, deviceID, types.ShadowState{Desired: state})
}

// RecordReported stores what a device reported on its status topic.
func (r *Reconciler) RecordReported(ctx context.Context, reading types.Reading) error {
	if len(reading.Measurements) == 0 {
		return nil
	}
	if !r.apply(ctx, OpReport, reading.DeviceID, types.ShadowState{Reported: reading.Clone().Measurements}) {
		return errReportFailed
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, op, deviceID string, patch types.ShadowState) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	patch.Desired = types.NativeNumbers(patch.Desired)
	patch.Reported = types.NativeNumbers(patch.Reported)
	doc, err := r.store.Apply(ctx, deviceID, patch)
	r.metrics.ShadowOp(op, err == nil)
	if err != nil {
		r.logger.Error().Err(err).Str("device_id", deviceID).Str("op", op).Msg("Failed to update shadow.")
		return false
	}
	r.logger.Debug().Str("device_id", deviceID).Str("op", op).Int64("version", doc.Version).Msg("Shadow updated.")
	return true
}
