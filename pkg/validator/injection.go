package validator

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes an injection pattern found in a request
// field.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	FieldName   string // Name of the request field that failed the check
}

// CheckFieldForInjection uses libinjection to detect SQL injection patterns
// in a user-supplied request field. Request fields (rule category, guardrail
// text) are interpolated into prompts, never into SQL, but a field that is
// itself an injection payload is rejected up front rather than being handed
// to the generator.
//
// Returns nil if no injection is detected.
func CheckFieldForInjection(fieldName, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			FieldName:   fieldName,
		}
	}

	return nil
}

// CheckRequestFields validates the free-text request fields for injection
// attempts, returning one result per offending field.
func CheckRequestFields(fields map[string]string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range fields {
		if result := CheckFieldForInjection(name, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
