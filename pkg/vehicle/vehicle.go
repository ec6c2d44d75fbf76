// Package vehicle is the per-vehicle facade: status reads and remote commands for one enrolled
// vehicle, gated by the vehicle's capability set before any network traffic.
package vehicle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dahlb/kia-hyundai-go/pkg/cache"
	"github.com/dahlb/kia-hyundai-go/pkg/connector"
	"github.com/dahlb/kia-hyundai-go/pkg/dispatcher"
	"github.com/dahlb/kia-hyundai-go/pkg/profile"
	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
)

// Backend is what a vehicle needs from its account: authenticated calls plus the shared
// dispatcher and status cache. Implemented by account.Account.
type Backend interface {
	Call(ctx context.Context, op profile.Operation, rc profile.RequestContext, params any) (*connector.Response, error)
	Profile() *profile.Profile
	Dispatcher() *dispatcher.Dispatcher
	Cache() *cache.StatusCache
}

// Vehicle is one enrolled vehicle. Values are cheap handles; all heavy state lives on the
// account's dispatcher and cache, so two Vehicle values for the same VIN stay consistent.
type Vehicle struct {
	backend Backend
	info    *profile.VehicleInfo

	lock       sync.Mutex
	lastAction string
}

func New(backend Backend, info *profile.VehicleInfo) *Vehicle {
	return &Vehicle{backend: backend, info: info}
}

func (v *Vehicle) VIN() string      { return v.info.VIN }
func (v *Vehicle) Nickname() string { return v.info.Nickname }
func (v *Vehicle) EV() bool         { return v.info.EV }

// Info returns the registry entry this vehicle was built from.
func (v *Vehicle) Info() *profile.VehicleInfo { return v.info }

// Supports reports whether op is available for this vehicle: the region must expose it and
// EV-only operations additionally require an electric powertrain.
func (v *Vehicle) Supports(op profile.Operation) bool {
	prof := v.backend.Profile()
	if !prof.Supports(op) {
		return false
	}
	if prof.EVOnly(op) && !v.info.EV {
		return false
	}
	return true
}

// Operations lists the operations available for this vehicle.
func (v *Vehicle) Operations() []profile.Operation {
	var ops []profile.Operation
	for _, op := range v.backend.Profile().Operations() {
		if v.Supports(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

func (v *Vehicle) gate(op profile.Operation) error {
	if !v.Supports(op) {
		return &protocol.UnsupportedOperationError{
			Operation: string(op),
			Variant:   string(v.backend.Profile().Variant()),
		}
	}
	return nil
}

func (v *Vehicle) requestContext() profile.RequestContext {
	return profile.RequestContext{
		VIN:            v.info.VIN,
		VehicleKey:     v.info.Key,
		RegistrationID: v.info.RegistrationID,
	}
}

// CachedStatus returns the locally cached status snapshot, or false if the vehicle has never
// been fetched. Never touches the network.
func (v *Vehicle) CachedStatus() (*cache.Snapshot, bool) {
	return v.backend.Cache().Get(v.info.VIN)
}

// FetchStatus reads the backend's server-side cached status and replaces the local snapshot.
// The backend is not asked to wake the vehicle; see RequestDataSync for that.
func (v *Vehicle) FetchStatus(ctx context.Context) (*cache.Snapshot, error) {
	if err := v.gate(profile.OpCachedStatus); err != nil {
		return nil, err
	}
	resp, err := v.backend.Call(ctx, profile.OpCachedStatus, v.requestContext(), nil)
	if err != nil {
		return nil, err
	}
	raw, err := v.backend.Profile().DecodeStatus(resp.Body)
	if err != nil {
		return nil, err
	}
	snapshot := &cache.Snapshot{VIN: v.info.VIN, RetrievedAt: time.Now(), Raw: raw}
	v.backend.Cache().Put(snapshot)
	return snapshot, nil
}

// submit runs one remote command through the dispatcher and remembers its correlation id.
func (v *Vehicle) submit(ctx context.Context, op profile.Operation, params any) (string, error) {
	if err := v.gate(op); err != nil {
		return "", err
	}
	id, err := v.backend.Dispatcher().Submit(ctx, op, v.requestContext(), params)
	if err != nil {
		return "", err
	}
	v.lock.Lock()
	v.lastAction = id
	v.lock.Unlock()
	return id, nil
}

// RequestDataSync asks the backend to pull a fresh status read from the vehicle. The returned
// correlation id tracks the read like any other remote command.
func (v *Vehicle) RequestDataSync(ctx context.Context) (string, error) {
	return v.submit(ctx, profile.OpDataSync, nil)
}

// Sync requests a fresh read, waits for it to finish, and refetches the cached status. Returns
// the updated snapshot, or the command's terminal state when the read did not succeed.
func (v *Vehicle) Sync(ctx context.Context, interval time.Duration) (*cache.Snapshot, protocol.ActionState, error) {
	id, err := v.RequestDataSync(ctx)
	if err != nil {
		return nil, "", err
	}
	state, err := v.backend.Dispatcher().WaitForCompletion(ctx, id, interval)
	if err != nil {
		return nil, state, err
	}
	if state != protocol.StateSucceeded {
		return nil, state, nil
	}
	snapshot, err := v.FetchStatus(ctx)
	return snapshot, state, err
}

// Lock locks the doors.
func (v *Vehicle) Lock(ctx context.Context) (string, error) {
	return v.submit(ctx, profile.OpLock, nil)
}

// Unlock unlocks the doors.
func (v *Vehicle) Unlock(ctx context.Context) (string, error) {
	return v.submit(ctx, profile.OpUnlock, nil)
}

// StartClimate starts remote climate with the given options.
func (v *Vehicle) StartClimate(ctx context.Context, opts *profile.ClimateOptions) (string, error) {
	return v.submit(ctx, profile.OpStartClimate, opts)
}

// StopClimate stops remote climate.
func (v *Vehicle) StopClimate(ctx context.Context) (string, error) {
	return v.submit(ctx, profile.OpStopClimate, nil)
}

// StartClimateEV starts remote climate through the Canada EV endpoint.
func (v *Vehicle) StartClimateEV(ctx context.Context, opts *profile.ClimateOptions) (string, error) {
	return v.submit(ctx, profile.OpStartClimateEV, opts)
}

// StopClimateEV stops remote climate through the Canada EV endpoint.
func (v *Vehicle) StopClimateEV(ctx context.Context) (string, error) {
	return v.submit(ctx, profile.OpStopClimateEV, nil)
}

// StartCharge starts charging.
func (v *Vehicle) StartCharge(ctx context.Context) (string, error) {
	return v.submit(ctx, profile.OpStartCharge, nil)
}

// StopCharge stops charging.
func (v *Vehicle) StopCharge(ctx context.Context) (string, error) {
	return v.submit(ctx, profile.OpStopCharge, nil)
}

// SetChargeLimits sets the target state of charge for AC and DC charging.
func (v *Vehicle) SetChargeLimits(ctx context.Context, ac, dc int) (string, error) {
	return v.submit(ctx, profile.OpSetChargeLimits, &profile.ChargeLimits{AC: ac, DC: dc})
}

func (v *Vehicle) lastActionID() (string, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.lastAction == "" {
		return "", protocol.ErrUnknownCommand
	}
	return v.lastAction, nil
}

// CheckLastActionStatus polls the progress of the most recently submitted command.
func (v *Vehicle) CheckLastActionStatus(ctx context.Context) (protocol.ActionState, error) {
	id, err := v.lastActionID()
	if err != nil {
		return "", err
	}
	return v.backend.Dispatcher().CheckStatus(ctx, id)
}

// WaitForLastAction polls until the most recent command reaches a terminal state or ctx expires.
func (v *Vehicle) WaitForLastAction(ctx context.Context, interval time.Duration) (protocol.ActionState, error) {
	id, err := v.lastActionID()
	if err != nil {
		return "", err
	}
	return v.backend.Dispatcher().WaitForCompletion(ctx, id, interval)
}

// Location returns the vehicle's last known coordinates.
func (v *Vehicle) Location(ctx context.Context) (*profile.Location, error) {
	if err := v.gate(profile.OpLocation); err != nil {
		return nil, err
	}
	resp, err := v.backend.Call(ctx, profile.OpLocation, v.requestContext(), nil)
	if err != nil {
		return nil, err
	}
	return v.backend.Profile().DecodeLocation(resp.Body)
}

// NextServiceStatus returns the maintenance document from the Canada next-service endpoint.
func (v *Vehicle) NextServiceStatus(ctx context.Context) (json.RawMessage, error) {
	if err := v.gate(profile.OpNextService); err != nil {
		return nil, err
	}
	resp, err := v.backend.Call(ctx, profile.OpNextService, v.requestContext(), nil)
	if err != nil {
		return nil, err
	}
	return v.backend.Profile().DecodeNextService(resp.Body)
}
