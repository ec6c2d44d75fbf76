package profile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dahlb/kia-hyundai-go/pkg/connector"
	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
)

// usKiaSessionLifetime is assumed; the backend reports no expiry for the sid header.
const usKiaSessionLifetime = time.Hour

// LoginResult is the region-independent outcome of a login exchange.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// VehicleInfo is one entry of the decoded vehicle list.
type VehicleInfo struct {
	VIN            string
	ID             string
	Key            string
	Nickname       string
	Model          string
	Year           string
	RegistrationID string
	EV             bool
}

// Location is a decoded find-my-car result.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
}

// DecodeLogin extracts session material from a login response.
func (p *Profile) DecodeLogin(resp *connector.Response) (*LoginResult, error) {
	switch p.variant {
	case VariantUSKia:
		sid := resp.Header.Get("sid")
		if sid == "" {
			var envelope struct {
				Payload struct {
					OtpKey string `json:"otpKey"`
				} `json:"payload"`
			}
			if err := json.Unmarshal(resp.Body, &envelope); err == nil && envelope.Payload.OtpKey != "" {
				return nil, &protocol.AuthError{Reason: "account requires one-time passcode enrollment", Retryable: false}
			}
			return nil, &protocol.AuthError{Reason: "login response carried no session id", Retryable: false}
		}
		return &LoginResult{
			AccessToken:  sid,
			RefreshToken: resp.Header.Get("rmtoken"),
			ExpiresAt:    time.Now().Add(usKiaSessionLifetime),
		}, nil
	case VariantUSHyundai:
		var envelope struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    any    `json:"expires_in"`
		}
		if err := json.Unmarshal(resp.Body, &envelope); err != nil {
			return nil, &protocol.AuthError{Reason: fmt.Sprintf("malformed login response: %s", err), Retryable: false}
		}
		if envelope.AccessToken == "" {
			return nil, &protocol.AuthError{Reason: "login response carried no access token", Retryable: false}
		}
		return &LoginResult{
			AccessToken:  envelope.AccessToken,
			RefreshToken: envelope.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(asSeconds(envelope.ExpiresIn)) * time.Second),
		}, nil
	default:
		var envelope struct {
			Result struct {
				AccessToken  string `json:"accessToken"`
				RefreshToken string `json:"refreshToken"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp.Body, &envelope); err != nil {
			return nil, &protocol.AuthError{Reason: fmt.Sprintf("malformed login response: %s", err), Retryable: false}
		}
		if envelope.Result.AccessToken == "" {
			return nil, &protocol.AuthError{Reason: "login response carried no access token", Retryable: false}
		}
		return &LoginResult{
			AccessToken:  envelope.Result.AccessToken,
			RefreshToken: envelope.Result.RefreshToken,
			ExpiresAt:    jwtExpiry(envelope.Result.AccessToken),
		}, nil
	}
}

// asSeconds coerces the oauth expires_in field, which the backend has been seen sending both as a
// number and as a quoted string.
func asSeconds(v any) int64 {
	switch value := v.(type) {
	case float64:
		return int64(value)
	case string:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return 1800
}

// jwtExpiry reads the exp claim of an unverified JWT. The token is not trusted for anything but
// scheduling the next login, so skipping signature verification is fine.
func jwtExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(time.Hour)
}

// PinTokenResult carries the CA pAuth token required by remote commands.
type PinTokenResult struct {
	Token     string
	ExpiresAt time.Time
}

// DecodePinToken extracts the pAuth token from a CA pin verification response.
func (p *Profile) DecodePinToken(body []byte) (*PinTokenResult, error) {
	var envelope struct {
		Result struct {
			PAuth     string `json:"pAuth"`
			ExpiresAt int64  `json:"expiry"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &protocol.AuthError{Reason: fmt.Sprintf("malformed pin response: %s", err), Retryable: false}
	}
	if envelope.Result.PAuth == "" {
		return nil, &protocol.AuthError{Reason: "pin verification returned no token", Retryable: false}
	}
	expires := time.Now().Add(10 * time.Minute)
	if envelope.Result.ExpiresAt > 0 {
		expires = time.Unix(envelope.Result.ExpiresAt, 0)
	}
	return &PinTokenResult{Token: envelope.Result.PAuth, ExpiresAt: expires}, nil
}

// DecodeVehicles extracts the vehicle list from a list response.
func (p *Profile) DecodeVehicles(body []byte) ([]*VehicleInfo, error) {
	switch p.variant {
	case VariantUSKia:
		var envelope struct {
			Payload struct {
				VehicleSummary []struct {
					VIN               string `json:"vin"`
					VehicleIdentifier string `json:"vehicleIdentifier"`
					VehicleKey        string `json:"vehicleKey"`
					NickName          string `json:"nickName"`
					ModelName         string `json:"modelName"`
					ModelYear         string `json:"modelYear"`
					FuelType          int    `json:"fuelType"`
				} `json:"vehicleSummary"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		vehicles := make([]*VehicleInfo, 0, len(envelope.Payload.VehicleSummary))
		for _, v := range envelope.Payload.VehicleSummary {
			vehicles = append(vehicles, &VehicleInfo{
				VIN:      v.VIN,
				ID:       v.VehicleIdentifier,
				Key:      v.VehicleKey,
				Nickname: v.NickName,
				Model:    v.ModelName,
				Year:     v.ModelYear,
				// fuelType 4 is battery-electric; 3 is hybrid, 1 gasoline.
				EV: v.FuelType == 4,
			})
		}
		return vehicles, nil
	case VariantUSHyundai:
		var envelope struct {
			EnrolledVehicleDetails []struct {
				VehicleDetails struct {
					VIN       string `json:"vin"`
					RegID     string `json:"regid"`
					NickName  string `json:"nickName"`
					ModelCode string `json:"modelCode"`
					ModelYear string `json:"modelYear"`
					EVStatus  string `json:"evStatus"`
				} `json:"vehicleDetails"`
			} `json:"enrolledVehicleDetails"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		vehicles := make([]*VehicleInfo, 0, len(envelope.EnrolledVehicleDetails))
		for _, v := range envelope.EnrolledVehicleDetails {
			d := v.VehicleDetails
			vehicles = append(vehicles, &VehicleInfo{
				VIN:            d.VIN,
				ID:             d.VIN,
				Nickname:       d.NickName,
				Model:          d.ModelCode,
				Year:           d.ModelYear,
				RegistrationID: d.RegID,
				EV:             d.EVStatus != "" && d.EVStatus != "N",
			})
		}
		return vehicles, nil
	default:
		var envelope struct {
			Result struct {
				Vehicles []struct {
					VehicleID    string `json:"vehicleId"`
					VIN          string `json:"vin"`
					NickName     string `json:"nickName"`
					ModelName    string `json:"modelName"`
					ModelYear    string `json:"modelYear"`
					FuelKindCode string `json:"fuelKindCode"`
				} `json:"vehicles"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		vehicles := make([]*VehicleInfo, 0, len(envelope.Result.Vehicles))
		for _, v := range envelope.Result.Vehicles {
			vehicles = append(vehicles, &VehicleInfo{
				VIN:      v.VIN,
				ID:       v.VehicleID,
				Key:      v.VehicleID,
				Nickname: v.NickName,
				Model:    v.ModelName,
				Year:     v.ModelYear,
				// fuelKindCode: G gasoline, D diesel, E electric.
				EV: v.FuelKindCode == "E",
			})
		}
		return vehicles, nil
	}
}

// DecodeError inspects a 2xx response body for a vendor-level error envelope. Returns nil when
// the envelope signals success or the body carries no recognizable envelope.
func (p *Profile) DecodeError(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	switch p.variant {
	case VariantUSKia:
		var envelope struct {
			Status *struct {
				StatusCode   int    `json:"statusCode"`
				ErrorType    int    `json:"errorType"`
				ErrorCode    int    `json:"errorCode"`
				ErrorMessage string `json:"errorMessage"`
			} `json:"status"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Status == nil {
			return nil
		}
		s := envelope.Status
		if s.StatusCode == 0 {
			return nil
		}
		if s.ErrorType == 1 {
			switch s.ErrorCode {
			// 1005 is an invalid vehicle key for the current session; the rest are expired or
			// invalidated session ids. All are cured by logging in again.
			case 1001, 1003, 1005, 1037:
				return &protocol.AuthError{Reason: nonEmpty(s.ErrorMessage, "session invalid"), Retryable: true}
			}
		}
		return protocol.NewError(nonEmpty(s.ErrorMessage, "request rejected"), false, false)
	case VariantUSHyundai:
		var envelope struct {
			ErrorCode    int    `json:"errorCode"`
			ErrorSubCode string `json:"errorSubCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.ErrorCode == 0 {
			return nil
		}
		if envelope.ErrorCode == 502 && envelope.ErrorSubCode == "HT_534" {
			return protocol.NewError(nonEmpty(envelope.ErrorMessage, "remote service quota exceeded"), false, true)
		}
		if envelope.ErrorCode == 502 && envelope.ErrorSubCode == "IDM_401_1" {
			return &protocol.AuthError{Reason: nonEmpty(envelope.ErrorMessage, "token expired"), Retryable: true}
		}
		return protocol.NewError(fmt.Sprintf("api error %d/%s: %s", envelope.ErrorCode, envelope.ErrorSubCode, envelope.ErrorMessage), false, false)
	default:
		var envelope struct {
			ResponseHeader *struct {
				ResponseCode int `json:"responseCode"`
			} `json:"responseHeader"`
			Error struct {
				ErrorCode string `json:"errorCode"`
				ErrorDesc string `json:"errorDesc"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.ResponseHeader == nil {
			return nil
		}
		if envelope.ResponseHeader.ResponseCode == 0 {
			return nil
		}
		switch envelope.Error.ErrorCode {
		case "7404":
			return &protocol.AuthError{Reason: nonEmpty(envelope.Error.ErrorDesc, "invalid password"), Retryable: false}
		case "7310":
			return &protocol.AuthError{Reason: nonEmpty(envelope.Error.ErrorDesc, "invalid pin"), Retryable: false}
		case "6533", "6534":
			return protocol.NewError(nonEmpty(envelope.Error.ErrorDesc, "rate limited"), false, true)
		}
		return protocol.NewError(nonEmpty(envelope.Error.ErrorDesc, "request rejected"), false, false)
	}
}

// CorrelationID extracts the vendor-issued action id from a command response, or "" when the
// region does not issue one.
func (p *Profile) CorrelationID(resp *connector.Response) string {
	switch p.variant {
	case VariantUSKia:
		return resp.Header.Get("Xid")
	case VariantUSHyundai:
		return ""
	default:
		return resp.Header.Get("transactionId")
	}
}

// DecodeActionStatus reduces an action-status response to a PollResult.
func (p *Profile) DecodeActionStatus(body []byte) (protocol.PollResult, error) {
	switch p.variant {
	case VariantUSKia:
		// The gts payload is a map of subsystem codes. All zeroes means the action completed;
		// 2 means the command has reached the vehicle; 4 and up are failure codes.
		var envelope struct {
			Payload map[string]int `json:"payload"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return protocol.PollResult{}, err
		}
		result := protocol.PollResult{Done: true}
		for _, code := range envelope.Payload {
			switch {
			case code >= 4:
				return protocol.PollResult{Done: true, Failed: true, Reason: fmt.Sprintf("vehicle reported failure code %d", code)}, nil
			case code == 2:
				result.Done = false
				result.Relayed = true
			case code != 0:
				result.Done = false
			}
		}
		return result, nil
	case VariantUSHyundai:
		return protocol.PollResult{}, &protocol.UnsupportedOperationError{
			Operation: string(OpActionStatus), Variant: string(p.variant),
		}
	default:
		var envelope struct {
			Result struct {
				Transaction struct {
					ApiStatusCode string `json:"apiStatusCode"`
					ApiResult     string `json:"apiResult"`
				} `json:"transaction"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return protocol.PollResult{}, err
		}
		switch envelope.Result.Transaction.ApiStatusCode {
		case "C":
			return protocol.PollResult{Done: true}, nil
		case "F", "X":
			return protocol.PollResult{Done: true, Failed: true, Reason: nonEmpty(envelope.Result.Transaction.ApiResult, "vehicle reported failure")}, nil
		case "IP", "R":
			return protocol.PollResult{Relayed: true}, nil
		default:
			return protocol.PollResult{}, nil
		}
	}
}

// DecodeStatus extracts the status document from a cached-status response. The raw vendor shape
// is preserved; callers treat it as opaque.
func (p *Profile) DecodeStatus(body []byte) (json.RawMessage, error) {
	switch p.variant {
	case VariantUSKia:
		var envelope struct {
			Payload struct {
				VehicleInfoList []json.RawMessage `json:"vehicleInfoList"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.Payload.VehicleInfoList) == 0 {
			return nil, protocol.NewError("status response carried no vehicle info", false, false)
		}
		return envelope.Payload.VehicleInfoList[0], nil
	case VariantUSHyundai:
		var envelope struct {
			VehicleStatus json.RawMessage `json:"vehicleStatus"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.VehicleStatus) == 0 {
			return nil, protocol.NewError("status response carried no vehicle status", false, false)
		}
		return envelope.VehicleStatus, nil
	default:
		var envelope struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.Result) == 0 {
			return nil, protocol.NewError("status response carried no result", false, false)
		}
		return envelope.Result, nil
	}
}

// DecodeLocation extracts coordinates from a find-my-car response.
func (p *Profile) DecodeLocation(body []byte) (*Location, error) {
	switch p.variant {
	case VariantUSHyundai:
		var envelope struct {
			Coord Location `json:"coord"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		return &envelope.Coord, nil
	default:
		var envelope struct {
			Result struct {
				Coord Location `json:"coord"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		return &envelope.Result.Coord, nil
	}
}

// DecodeNextService extracts the maintenance document from a CA next-service response.
func (p *Profile) DecodeNextService(body []byte) (json.RawMessage, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Result) == 0 {
		return nil, protocol.NewError("next service response carried no result", false, false)
	}
	return envelope.Result, nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
