package profile_test

import (
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dahlb/kia-hyundai-go/pkg/connector"
	"github.com/dahlb/kia-hyundai-go/pkg/profile"
	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
)

var _ = Describe("Capability tables", func() {
	It("rejects operations outside the region", func() {
		usKia := profile.USKia()
		_, _, err := usKia.URL(profile.OpStartClimateEV, profile.RequestContext{})
		var unsupported *protocol.UnsupportedOperationError
		Expect(err).To(HaveOccurred())
		Expect(errors.As(err, &unsupported)).To(BeTrue())
		Expect(unsupported.Variant).To(Equal("us-kia"))
	})

	It("resolves US Kia endpoints under the api gateway", func() {
		usKia := profile.USKia()
		method, url, err := usKia.URL(profile.OpLock, profile.RequestContext{})
		Expect(err).NotTo(HaveOccurred())
		Expect(method).To(Equal(http.MethodGet))
		Expect(url).To(Equal("https://api.owners.kia.com/apigw/v1/rems/door/lock"))
	})

	It("uses the separate US Hyundai login base", func() {
		hyundai := profile.USHyundai()
		_, url, err := hyundai.URL(profile.OpLogin, profile.RequestContext{})
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("https://api.telematics.hyundaiusa.com/v2/ac/oauth/token"))

		_, url, err = hyundai.URL(profile.OpListVehicles, profile.RequestContext{Username: "driver@example.com"})
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("https://api.telematics.hyundaiusa.com/ac/v2/enrollment/details/driver@example.com"))
	})

	It("exposes the full command set for Canada", func() {
		ca := profile.CAKia()
		for _, op := range []profile.Operation{
			profile.OpStartClimateEV, profile.OpNextService, profile.OpPinToken, profile.OpLocation,
		} {
			Expect(ca.Supports(op)).To(BeTrue(), string(op))
		}
		Expect(ca.RequiresPin()).To(BeTrue())
		Expect(ca.TracksActions()).To(BeTrue())
	})

	It("marks US Hyundai as synchronous", func() {
		Expect(profile.USHyundai().TracksActions()).To(BeFalse())
		Expect(profile.USHyundai().Supports(profile.OpActionStatus)).To(BeFalse())
	})

	It("keeps charge operations EV-only", func() {
		Expect(profile.USKia().EVOnly(profile.OpStartCharge)).To(BeTrue())
		Expect(profile.USKia().EVOnly(profile.OpLock)).To(BeFalse())
	})
})

var _ = Describe("Headers", func() {
	It("sends the Kia app identity and session id", func() {
		usKia := profile.USKia()
		h := usKia.Headers(profile.OpLock, profile.RequestContext{SessionToken: "sid-1", VehicleKey: "key-1"})
		Expect(h.Get("clientid")).To(Equal("MWAMOBILE"))
		Expect(h.Get("ostype")).To(Equal("Android"))
		Expect(h.Get("sid")).To(Equal("sid-1"))
		Expect(h.Get("vinkey")).To(Equal("key-1"))
		Expect(h.Get("deviceid")).NotTo(BeEmpty())
	})

	It("omits session headers before login", func() {
		h := profile.USKia().Headers(profile.OpLogin, profile.RequestContext{})
		Expect(h.Get("sid")).To(BeEmpty())
		Expect(h.Get("vinkey")).To(BeEmpty())
	})

	It("sends US Hyundai credentials as headers", func() {
		h := profile.USHyundai().Headers(profile.OpCachedStatus, profile.RequestContext{
			Username: "driver@example.com", PIN: "1234", SessionToken: "token-1", VIN: "VIN1",
		})
		Expect(h.Get("username")).To(Equal("driver@example.com"))
		Expect(h.Get("blueLinkServicePin")).To(Equal("1234"))
		Expect(h.Get("accessToken")).To(Equal("token-1"))
		Expect(h.Get("vin")).To(Equal("VIN1"))
		Expect(h.Get("client_id")).NotTo(BeEmpty())
	})

	It("adds the app cloud vin only on door commands", func() {
		hyundai := profile.USHyundai()
		rc := profile.RequestContext{VIN: "VIN1", RegistrationID: "REG1"}
		Expect(hyundai.Headers(profile.OpLock, rc).Get("APPCLOUD-VIN")).To(Equal("VIN1"))
		Expect(hyundai.Headers(profile.OpCachedStatus, rc).Get("APPCLOUD-VIN")).To(BeEmpty())
	})

	It("sends the CA pin token and correlation id", func() {
		ca := profile.CAHyundai()
		h := ca.Headers(profile.OpActionStatus, profile.RequestContext{
			SessionToken: "jwt", VehicleKey: "veh-1", PinToken: "pauth-1", XID: "txn-9",
		})
		Expect(h.Get("accessToken")).To(Equal("jwt"))
		Expect(h.Get("vehicleId")).To(Equal("veh-1"))
		Expect(h.Get("pAuth")).To(Equal("pauth-1"))
		Expect(h.Get("transactionId")).To(Equal("txn-9"))
		Expect(h.Get("host")).To(Equal("mybluelink.ca"))
	})

	It("never sends a pin token to the pin verification endpoint", func() {
		h := profile.CAKia().Headers(profile.OpPinToken, profile.RequestContext{PinToken: "stale"})
		Expect(h.Get("pAuth")).To(BeEmpty())
	})
})

var _ = Describe("Payloads", func() {
	It("shapes the US Kia login body", func() {
		body, err := profile.USKia().Body(profile.OpLogin, profile.RequestContext{
			Username: "driver@example.com", Password: "secret",
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{
			"deviceKey": "",
			"deviceType": 2,
			"userCredential": {"userId": "driver@example.com", "password": "secret"}
		}`))
	})

	It("shapes the US Kia climate body with seats", func() {
		body, err := profile.USKia().Body(profile.OpStartClimate, profile.RequestContext{}, &profile.ClimateOptions{
			Temperature: 72,
			Climate:     true,
			Defrost:     true,
			Heating:     true,
			DriverSeat:  profile.SeatHeatHigh,
			LeftRearSeat: profile.SeatCoolLow,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{
			"remoteClimate": {
				"airCtrl": true,
				"airTemp": {"unit": 1, "value": "72"},
				"defrost": true,
				"heatingAccessory": {"rearWindow": 1, "sideMirror": 1, "steeringWheel": 1},
				"ignitionOnDuration": {"unit": 4, "value": 9},
				"heatVentSeat": {
					"driverSeat": {"heatVentType": 1, "heatVentLevel": 4, "heatVentStep": 1},
					"passengerSeat": {"heatVentType": 0, "heatVentLevel": 1, "heatVentStep": 0},
					"rearLeftSeat": {"heatVentType": 2, "heatVentLevel": 2, "heatVentStep": 3},
					"rearRightSeat": {"heatVentType": 0, "heatVentLevel": 1, "heatVentStep": 0}
				}
			}
		}`))
	})

	It("omits the seat block when no seat is configured", func() {
		body, err := profile.USKia().Body(profile.OpStartClimate, profile.RequestContext{}, &profile.ClimateOptions{Temperature: 72})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).NotTo(ContainSubstring("heatVentSeat"))
	})

	It("orders charge limits DC before AC", func() {
		body, err := profile.USKia().Body(profile.OpSetChargeLimits, profile.RequestContext{}, &profile.ChargeLimits{AC: 90, DC: 80})
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{
			"targetSOClist": [
				{"plugType": 0, "targetSOClevel": 80},
				{"plugType": 1, "targetSOClevel": 90}
			]
		}`))
	})

	It("rejects charge limits outside the vendor's range", func() {
		_, err := profile.USKia().Body(profile.OpSetChargeLimits, profile.RequestContext{}, &profile.ChargeLimits{AC: 40, DC: 80})
		Expect(err).To(HaveOccurred())
	})

	It("encodes CA temperatures as hex range indexes", func() {
		body, err := profile.CAKia().Body(profile.OpStartClimate, profile.RequestContext{PIN: "1234"}, &profile.ClimateOptions{
			Temperature: 22.0, Climate: true, Duration: 10,
		})
		Expect(err).NotTo(HaveOccurred())
		// 22.0C is index 12 of the 16.0-32.0 half-degree table.
		Expect(string(body)).To(ContainSubstring(`"value":"0CH"`))
		Expect(string(body)).To(ContainSubstring(`"hvacTempType":0`))
		Expect(string(body)).To(ContainSubstring(`"pin":"1234"`))
	})

	It("uses the EV table and hvacTempType for EV climate", func() {
		body, err := profile.CAKia().Body(profile.OpStartClimateEV, profile.RequestContext{PIN: "1234"}, &profile.ClimateOptions{
			Temperature: 17.0, Climate: true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring(`"value":"00H"`))
		Expect(string(body)).To(ContainSubstring(`"hvacTempType":1`))
		Expect(string(body)).To(ContainSubstring("hvacInfo"))
	})

	It("rejects temperatures outside the CA table", func() {
		_, err := profile.CAKia().Body(profile.OpStartClimate, profile.RequestContext{}, &profile.ClimateOptions{Temperature: 50})
		Expect(err).To(HaveOccurred())
	})

	It("sends only the pin for CA lock", func() {
		body, err := profile.CAKia().Body(profile.OpLock, profile.RequestContext{PIN: "1234"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{"pin": "1234"}`))
	})

	It("sends no body on US Kia GET commands", func() {
		body, err := profile.USKia().Body(profile.OpLock, profile.RequestContext{}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(BeNil())
	})
})

var _ = Describe("Decoding", func() {
	Describe("login", func() {
		It("reads the US Kia session id from the response header", func() {
			header := http.Header{}
			header.Set("Sid", "session-1")
			result, err := profile.USKia().DecodeLogin(&connector.Response{
				StatusCode: 200, Header: header, Body: []byte(`{"status":{"statusCode":0}}`),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AccessToken).To(Equal("session-1"))
			Expect(result.ExpiresAt).To(BeTemporally(">", time.Now()))
		})

		It("fails terminally when no session id is issued", func() {
			_, err := profile.USKia().DecodeLogin(&connector.Response{Header: http.Header{}, Body: []byte(`{}`)})
			var authErr *protocol.AuthError
			Expect(errors.As(err, &authErr)).To(BeTrue())
			Expect(authErr.Retryable).To(BeFalse())
		})

		It("reads the US Hyundai oauth envelope", func() {
			result, err := profile.USHyundai().DecodeLogin(&connector.Response{
				Header: http.Header{},
				Body:   []byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":"1799"}`),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AccessToken).To(Equal("at-1"))
			Expect(result.RefreshToken).To(Equal("rt-1"))
			Expect(result.ExpiresAt).To(BeTemporally("~", time.Now().Add(1799*time.Second), 5*time.Second))
		})

		It("reads the CA result envelope", func() {
			result, err := profile.CAKia().DecodeLogin(&connector.Response{
				Header: http.Header{},
				Body:   []byte(`{"responseHeader":{"responseCode":0},"result":{"accessToken":"not.a.jwt","refreshToken":"rt-1"}}`),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AccessToken).To(Equal("not.a.jwt"))
			// Unparseable tokens fall back to a fixed lifetime instead of failing login.
			Expect(result.ExpiresAt).To(BeTemporally(">", time.Now()))
		})
	})

	Describe("vehicle lists", func() {
		It("decodes the US Kia summary with EV detection", func() {
			body := []byte(`{"payload":{"vehicleSummary":[
				{"vin":"VIN1","vehicleIdentifier":"1234","vehicleKey":"KEY1","nickName":"Niro EV","modelName":"NIRO EV","modelYear":"2019","fuelType":4},
				{"vin":"VIN2","vehicleIdentifier":"5678","vehicleKey":"KEY2","nickName":"Sportage","modelName":"SPORTAGE","modelYear":"2021","fuelType":1}
			]}}`)
			vehicles, err := profile.USKia().DecodeVehicles(body)
			Expect(err).NotTo(HaveOccurred())
			Expect(vehicles).To(HaveLen(2))
			Expect(vehicles[0].EV).To(BeTrue())
			Expect(vehicles[0].Key).To(Equal("KEY1"))
			Expect(vehicles[1].EV).To(BeFalse())
		})

		It("decodes the US Hyundai enrollment details", func() {
			body := []byte(`{"enrolledVehicleDetails":[{"vehicleDetails":{
				"vin":"VIN1","regid":"REG1","nickName":"Santa Fe","modelCode":"SANTA FE","modelYear":"2022","evStatus":"N"
			}}]}`)
			vehicles, err := profile.USHyundai().DecodeVehicles(body)
			Expect(err).NotTo(HaveOccurred())
			Expect(vehicles).To(HaveLen(1))
			Expect(vehicles[0].RegistrationID).To(Equal("REG1"))
			Expect(vehicles[0].EV).To(BeFalse())
		})

		It("decodes the CA vehicle list", func() {
			body := []byte(`{"responseHeader":{"responseCode":0},"result":{"vehicles":[
				{"vehicleId":"ID1","vin":"VIN1","nickName":"Optimus","modelName":"Optima","modelYear":"2019","fuelKindCode":"G"}
			]}}`)
			vehicles, err := profile.CAKia().DecodeVehicles(body)
			Expect(err).NotTo(HaveOccurred())
			Expect(vehicles[0].Key).To(Equal("ID1"))
			Expect(vehicles[0].EV).To(BeFalse())
		})

		It("treats an empty list as valid", func() {
			vehicles, err := profile.CAKia().DecodeVehicles([]byte(`{"responseHeader":{"responseCode":0},"result":{"vehicles":[]}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(vehicles).To(BeEmpty())
		})
	})

	Describe("error envelopes", func() {
		It("classifies US Kia session errors as retryable auth failures", func() {
			err := profile.USKia().DecodeError([]byte(`{"status":{"statusCode":1,"errorType":1,"errorCode":1003,"errorMessage":"Session Key is either invalid or expired"}}`))
			var authErr *protocol.AuthError
			Expect(errors.As(err, &authErr)).To(BeTrue())
			Expect(authErr.Retryable).To(BeTrue())
		})

		It("passes US Kia success envelopes", func() {
			Expect(profile.USKia().DecodeError([]byte(`{"status":{"statusCode":0,"errorCode":0}}`))).To(Succeed())
		})

		It("classifies the US Hyundai rate sub-code as temporary", func() {
			err := profile.USHyundai().DecodeError([]byte(`{"errorCode":502,"errorSubCode":"HT_534","errorMessage":"daily limit"}`))
			Expect(protocol.Temporary(err)).To(BeTrue())
			var authErr *protocol.AuthError
			Expect(errors.As(err, &authErr)).To(BeFalse())
		})

		It("classifies the US Hyundai expired token sub-code as retryable auth", func() {
			err := profile.USHyundai().DecodeError([]byte(`{"errorCode":502,"errorSubCode":"IDM_401_1"}`))
			var authErr *protocol.AuthError
			Expect(errors.As(err, &authErr)).To(BeTrue())
			Expect(authErr.Retryable).To(BeTrue())
		})

		It("classifies CA password and pin errors as terminal", func() {
			for _, code := range []string{"7404", "7310"} {
				err := profile.CAKia().DecodeError([]byte(`{"responseHeader":{"responseCode":1},"error":{"errorCode":"` + code + `","errorDesc":"nope"}}`))
				var authErr *protocol.AuthError
				Expect(errors.As(err, &authErr)).To(BeTrue(), code)
				Expect(authErr.Retryable).To(BeFalse(), code)
			}
		})

		It("classifies CA rate errors as temporary", func() {
			err := profile.CAKia().DecodeError([]byte(`{"responseHeader":{"responseCode":1},"error":{"errorCode":"6534","errorDesc":"daily limit exceeded"}}`))
			Expect(protocol.Temporary(err)).To(BeTrue())
		})

		It("ignores bodies without a recognizable envelope", func() {
			Expect(profile.USKia().DecodeError([]byte(`{"payload":{}}`))).To(Succeed())
			Expect(profile.CAKia().DecodeError(nil)).To(Succeed())
		})
	})

	Describe("action status", func() {
		It("reduces an all-zero US Kia payload to done", func() {
			result, err := profile.USKia().DecodeActionStatus([]byte(`{"payload":{"remoteStart":0,"doorLock":0}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(protocol.PollResult{Done: true}))
		})

		It("reports relayed commands as in flight", func() {
			result, err := profile.USKia().DecodeActionStatus([]byte(`{"payload":{"doorLock":2}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Done).To(BeFalse())
			Expect(result.Relayed).To(BeTrue())
		})

		It("reports failure codes", func() {
			result, err := profile.USKia().DecodeActionStatus([]byte(`{"payload":{"doorLock":4}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Done).To(BeTrue())
			Expect(result.Failed).To(BeTrue())
		})

		It("maps CA transaction codes", func() {
			ca := profile.CAKia()
			done, err := ca.DecodeActionStatus([]byte(`{"responseHeader":{"responseCode":0},"result":{"transaction":{"apiStatusCode":"C"}}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(done.Done).To(BeTrue())

			failed, _ := ca.DecodeActionStatus([]byte(`{"result":{"transaction":{"apiStatusCode":"F","apiResult":"doors open"}}}`))
			Expect(failed.Failed).To(BeTrue())
			Expect(failed.Reason).To(Equal("doors open"))

			relayed, _ := ca.DecodeActionStatus([]byte(`{"result":{"transaction":{"apiStatusCode":"IP"}}}`))
			Expect(relayed.Relayed).To(BeTrue())
		})
	})

	Describe("correlation ids", func() {
		It("reads the Xid header for US Kia", func() {
			header := http.Header{}
			header.Set("Xid", "xid-1")
			Expect(profile.USKia().CorrelationID(&connector.Response{Header: header})).To(Equal("xid-1"))
		})

		It("reads the transactionId header for CA", func() {
			header := http.Header{}
			header.Set("transactionId", "txn-1")
			Expect(profile.CAKia().CorrelationID(&connector.Response{Header: header})).To(Equal("txn-1"))
		})

		It("returns empty for US Hyundai", func() {
			Expect(profile.USHyundai().CorrelationID(&connector.Response{Header: http.Header{}})).To(BeEmpty())
		})
	})

	Describe("status documents", func() {
		It("extracts the first vehicle info for US Kia", func() {
			raw, err := profile.USKia().DecodeStatus([]byte(`{"payload":{"vehicleInfoList":[{"vinKey":"KEY1"}]}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(MatchJSON(`{"vinKey":"KEY1"}`))
		})

		It("extracts the vehicleStatus for US Hyundai", func() {
			raw, err := profile.USHyundai().DecodeStatus([]byte(`{"vehicleStatus":{"doorLock":true}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(MatchJSON(`{"doorLock":true}`))
		})

		It("extracts the result for CA", func() {
			raw, err := profile.CAKia().DecodeStatus([]byte(`{"responseHeader":{"responseCode":0},"result":{"status":{"doorLock":true}}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(MatchJSON(`{"status":{"doorLock":true}}`))
		})
	})

	Describe("locations", func() {
		It("decodes CA coordinates from the result", func() {
			loc, err := profile.CAKia().DecodeLocation([]byte(`{"result":{"coord":{"lat":45.5,"lon":-73.6,"alt":30}}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(loc.Latitude).To(Equal(45.5))
			Expect(loc.Longitude).To(Equal(-73.6))
		})

		It("decodes US Hyundai coordinates from the top level", func() {
			loc, err := profile.USHyundai().DecodeLocation([]byte(`{"coord":{"lat":40.6,"lon":-74.5,"alt":113}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(loc.Altitude).To(Equal(113.0))
		})
	})

	Describe("pin tokens", func() {
		It("decodes the CA pAuth token", func() {
			result, err := profile.CAKia().DecodePinToken([]byte(`{"responseHeader":{"responseCode":0},"result":{"pAuth":"pauth-1"}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Token).To(Equal("pauth-1"))
			Expect(result.ExpiresAt).To(BeTemporally(">", time.Now()))
		})

		It("fails when the token is missing", func() {
			_, err := profile.CAKia().DecodePinToken([]byte(`{"result":{}}`))
			Expect(err).To(HaveOccurred())
		})
	})
})
