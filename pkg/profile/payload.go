package profile

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
)

// SeatSetting selects a heat or vent level for one seat in a climate request.
type SeatSetting int

const (
	SeatOff SeatSetting = iota
	SeatCoolLow
	SeatCoolMedium
	SeatCoolHigh
	SeatHeatLow
	SeatHeatMedium
	SeatHeatHigh
)

// seatPayload maps a SeatSetting to the heatVentType/Level/Step triple the Kia backend expects.
// Type 1 is heat, 2 is vent; higher levels pair with lower steps.
func seatPayload(s SeatSetting) map[string]int {
	switch s {
	case SeatHeatHigh:
		return map[string]int{"heatVentType": 1, "heatVentLevel": 4, "heatVentStep": 1}
	case SeatHeatMedium:
		return map[string]int{"heatVentType": 1, "heatVentLevel": 3, "heatVentStep": 2}
	case SeatHeatLow:
		return map[string]int{"heatVentType": 1, "heatVentLevel": 2, "heatVentStep": 3}
	case SeatCoolHigh:
		return map[string]int{"heatVentType": 2, "heatVentLevel": 4, "heatVentStep": 1}
	case SeatCoolMedium:
		return map[string]int{"heatVentType": 2, "heatVentLevel": 3, "heatVentStep": 2}
	case SeatCoolLow:
		return map[string]int{"heatVentType": 2, "heatVentLevel": 2, "heatVentStep": 3}
	default:
		return map[string]int{"heatVentType": 0, "heatVentLevel": 1, "heatVentStep": 0}
	}
}

// ClimateOptions configures a remote climate start. Temperature is degrees Fahrenheit for the US
// backends and Celsius for Canada. Zero-valued seats are sent as off.
type ClimateOptions struct {
	Temperature float64
	Defrost     bool
	Climate     bool
	Heating     bool
	Duration    int

	DriverSeat    SeatSetting
	PassengerSeat SeatSetting
	LeftRearSeat  SeatSetting
	RightRearSeat SeatSetting
}

func (o *ClimateOptions) hasSeats() bool {
	return o.DriverSeat != SeatOff || o.PassengerSeat != SeatOff ||
		o.LeftRearSeat != SeatOff || o.RightRearSeat != SeatOff
}

// ChargeLimits sets target state-of-charge percentages per plug type.
type ChargeLimits struct {
	AC int
	DC int
}

// The Canada backend encodes the target cabin temperature as an index into a fixed table,
// rendered as zero-padded uppercase hex with an "H" suffix ("0CH"). Combustion and EV models
// use different tables.
var (
	caTempRangeICE = caTempRange(16.0, 32.0)
	caTempRangeEV  = caTempRange(17.0, 27.0)
)

func caTempRange(low, high float64) []float64 {
	var r []float64
	for t := low; t <= high; t += 0.5 {
		r = append(r, t)
	}
	return r
}

func caTempCode(table []float64, celsius float64) (string, error) {
	for i, t := range table {
		if t == celsius {
			return fmt.Sprintf("%02XH", i), nil
		}
	}
	return "", fmt.Errorf("temperature %.1fC outside supported range %.1f-%.1f", celsius, table[0], table[len(table)-1])
}

func bool01(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Body builds the JSON request body for op, or nil for operations that send none.
func (p *Profile) Body(op Operation, rc RequestContext, params any) ([]byte, error) {
	var body any
	var err error
	switch p.variant {
	case VariantUSKia:
		body, err = p.usKiaBody(op, rc, params)
	case VariantUSHyundai:
		body, err = p.usHyundaiBody(op, rc, params)
	default:
		body, err = p.caBody(op, rc, params)
	}
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

func (p *Profile) usKiaBody(op Operation, rc RequestContext, params any) (any, error) {
	switch op {
	case OpLogin:
		return map[string]any{
			"deviceKey":      "",
			"deviceType":     2,
			"userCredential": map[string]string{"userId": rc.Username, "password": rc.Password},
		}, nil
	case OpCachedStatus:
		return map[string]any{
			"vehicleConfigReq": map[string]string{
				"airTempRange":       "0",
				"maintenance":        "1",
				"seatHeatCoolOption": "1",
				"vehicle":            "1",
				"vehicleFeature":     "1",
			},
			"vehicleInfoReq": map[string]string{
				"drivingActivty":  "0",
				"dtc":             "0",
				"enrollment":      "1",
				"functionalCards": "0",
				"location":        "1",
				"vehicleStatus":   "1",
				"weather":         "0",
			},
			"vinKey": []string{rc.VehicleKey},
		}, nil
	case OpDataSync:
		// requestType 1 would return cached results instead of waking the vehicle.
		return map[string]int{"requestType": 0}, nil
	case OpActionStatus:
		return map[string]string{"xid": rc.XID}, nil
	case OpStartClimate:
		opts, err := climateOptions(params)
		if err != nil {
			return nil, err
		}
		remoteClimate := map[string]any{
			"airCtrl": opts.Climate,
			"airTemp": map[string]any{
				"unit":  1,
				"value": strconv.Itoa(int(opts.Temperature)),
			},
			"defrost": opts.Defrost,
			"heatingAccessory": map[string]int{
				"rearWindow":    bool01(opts.Heating),
				"sideMirror":    bool01(opts.Heating),
				"steeringWheel": bool01(opts.Heating),
			},
			"ignitionOnDuration": map[string]int{"unit": 4, "value": 9},
		}
		if opts.hasSeats() {
			remoteClimate["heatVentSeat"] = map[string]any{
				"driverSeat":    seatPayload(opts.DriverSeat),
				"passengerSeat": seatPayload(opts.PassengerSeat),
				"rearLeftSeat":  seatPayload(opts.LeftRearSeat),
				"rearRightSeat": seatPayload(opts.RightRearSeat),
			}
		}
		return map[string]any{"remoteClimate": remoteClimate}, nil
	case OpStartCharge:
		return map[string]int{"chargeRatio": 100}, nil
	case OpSetChargeLimits:
		limits, err := chargeLimits(params)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"targetSOClist": []map[string]int{
				{"plugType": 0, "targetSOClevel": limits.DC},
				{"plugType": 1, "targetSOClevel": limits.AC},
			},
		}, nil
	default:
		// lock, unlock, stop climate, stop charge, vehicle list are GETs.
		return nil, nil
	}
}

func (p *Profile) usHyundaiBody(op Operation, rc RequestContext, params any) (any, error) {
	switch op {
	case OpLogin:
		return map[string]string{"username": rc.Username, "password": rc.Password}, nil
	case OpLock, OpUnlock:
		return map[string]string{"userName": rc.Username, "vin": rc.VIN}, nil
	case OpStartClimate:
		opts, err := climateOptions(params)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"Ims":            0,
			"airCtrl":        bool01(opts.Climate),
			"airTemp":        map[string]any{"unit": 1, "value": int(opts.Temperature)},
			"defrost":        opts.Defrost,
			"heating1":       bool01(opts.Heating),
			"igniOnDuration": opts.Duration,
			"username":       rc.Username,
			"vin":            rc.VIN,
		}, nil
	case OpStopClimate:
		return map[string]any{}, nil
	default:
		return nil, nil
	}
}

func (p *Profile) caBody(op Operation, rc RequestContext, params any) (any, error) {
	switch op {
	case OpLogin:
		return map[string]string{"loginId": rc.Username, "password": rc.Password}, nil
	case OpPinToken, OpLocation, OpLock, OpUnlock, OpStopClimate, OpStopClimateEV, OpStartCharge, OpStopCharge:
		return map[string]string{"pin": rc.PIN}, nil
	case OpStartClimate:
		opts, err := climateOptions(params)
		if err != nil {
			return nil, err
		}
		code, err := caTempCode(caTempRangeICE, opts.Temperature)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"setting": map[string]any{
				"airCtrl":        bool01(opts.Climate),
				"defrost":        opts.Defrost,
				"heating1":       bool01(opts.Heating),
				"igniOnDuration": opts.Duration,
				"ims":            0,
				"airTemp":        map[string]any{"value": code, "unit": 0, "hvacTempType": 0},
			},
			"pin": rc.PIN,
		}, nil
	case OpStartClimateEV:
		opts, err := climateOptions(params)
		if err != nil {
			return nil, err
		}
		code, err := caTempCode(caTempRangeEV, opts.Temperature)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"hvacInfo": map[string]any{
				"airCtrl":  bool01(opts.Climate),
				"defrost":  opts.Defrost,
				"heating1": bool01(opts.Heating),
				"airTemp":  map[string]any{"value": code, "unit": 0, "hvacTempType": 1},
			},
			"pin": rc.PIN,
		}, nil
	default:
		// vehicle list, cached status, next service, data sync, action status post empty bodies.
		return nil, nil
	}
}

func climateOptions(params any) (*ClimateOptions, error) {
	opts, ok := params.(*ClimateOptions)
	if !ok || opts == nil {
		return nil, protocol.NewError("climate options required", false, false)
	}
	return opts, nil
}

func chargeLimits(params any) (*ChargeLimits, error) {
	limits, ok := params.(*ChargeLimits)
	if !ok || limits == nil {
		return nil, protocol.NewError("charge limits required", false, false)
	}
	if limits.AC < 50 || limits.AC > 100 || limits.DC < 50 || limits.DC > 100 {
		return nil, protocol.NewError("charge limits must be between 50 and 100 percent", false, false)
	}
	return limits, nil
}
