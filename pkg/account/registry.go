package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dahlb/kia-hyundai-go/internal/log"
	"github.com/dahlb/kia-hyundai-go/pkg/profile"
	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
	"github.com/dahlb/kia-hyundai-go/pkg/vehicle"
)

// DefaultVehicleListTTL bounds how long the cached vehicle list is trusted. Enrollment changes
// are rare; ten minutes keeps repeated lookups off the network.
const DefaultVehicleListTTL = 10 * time.Minute

// registry caches the account's enrolled vehicles.
type registry struct {
	account *Account
	ttl     time.Duration

	lock      sync.Mutex
	vehicles  []*profile.VehicleInfo
	fetchedAt time.Time
}

func newRegistry(a *Account) *registry {
	return &registry{account: a, ttl: DefaultVehicleListTTL}
}

func (r *registry) drop() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.vehicles = nil
	r.fetchedAt = time.Time{}
}

func (r *registry) list(ctx context.Context, force bool) ([]*profile.VehicleInfo, error) {
	r.lock.Lock()
	if !force && r.vehicles != nil && time.Since(r.fetchedAt) < r.ttl {
		cached := r.vehicles
		r.lock.Unlock()
		return cached, nil
	}
	r.lock.Unlock()

	resp, err := r.account.Call(ctx, profile.OpListVehicles, r.account.baseContext(), nil)
	if err != nil {
		return nil, &protocol.VehicleListError{Err: err}
	}
	infos, err := r.account.prof.DecodeVehicles(resp.Body)
	if err != nil {
		return nil, &protocol.VehicleListError{Err: err}
	}

	r.lock.Lock()
	// An account with no enrolled vehicles is a valid, cacheable result.
	r.vehicles = infos
	r.fetchedAt = time.Now()
	r.lock.Unlock()
	log.Debug("Fetched %d vehicles for %s", len(infos), r.account.creds.Username)
	return infos, nil
}

// Vehicles returns the enrolled vehicles, served from cache within the TTL.
func (a *Account) Vehicles(ctx context.Context) ([]*vehicle.Vehicle, error) {
	infos, err := a.registry.list(ctx, false)
	if err != nil {
		return nil, err
	}
	vehicles := make([]*vehicle.Vehicle, 0, len(infos))
	for _, info := range infos {
		vehicles = append(vehicles, vehicle.New(a, info))
	}
	return vehicles, nil
}

// RefreshVehicles re-fetches the vehicle list regardless of the TTL.
func (a *Account) RefreshVehicles(ctx context.Context) ([]*vehicle.Vehicle, error) {
	if _, err := a.registry.list(ctx, true); err != nil {
		return nil, err
	}
	return a.Vehicles(ctx)
}

// GetVehicle returns the enrolled vehicle with the given VIN.
func (a *Account) GetVehicle(ctx context.Context, vin string) (*vehicle.Vehicle, error) {
	infos, err := a.registry.list(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if strings.EqualFold(info.VIN, vin) {
			return vehicle.New(a, info), nil
		}
	}
	return nil, &protocol.VehicleListError{Err: protocol.NewError("vin not enrolled on this account", false, false)}
}
