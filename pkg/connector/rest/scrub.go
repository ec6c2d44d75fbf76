package rest

import "encoding/json"

// Fields the vendor APIs carry in request and response bodies that should never reach debug logs.
var sensitiveFields = map[string]bool{
	"username":     true,
	"userid":       true,
	"loginid":      true,
	"password":     true,
	"pin":          true,
	"vin":          true,
	"sid":          true,
	"vinkey":       true,
	"lat":          true,
	"lon":          true,
	"accesstoken":  true,
	"refreshtoken": true,
	"pauth":        true,
}

func scrubValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		for key, inner := range value {
			if sensitiveFields[lower(key)] {
				value[key] = "***"
				continue
			}
			value[key] = scrubValue(inner)
		}
		return value
	case []interface{}:
		for i, inner := range value {
			value[i] = scrubValue(inner)
		}
		return value
	}
	return v
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// scrubBody redacts sensitive fields from a JSON body for debug logging. Non-JSON bodies are
// replaced wholesale; they only occur on login endpoints.
func scrubBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "<non-JSON body redacted>"
	}
	scrubbed, err := json.Marshal(scrubValue(decoded))
	if err != nil {
		return "<body redacted>"
	}
	return string(scrubbed)
}
