package session

import "strings"

// ErrorClass buckets vendor-reported errors into user-facing categories.
// Vendor SDKs expose failures as loosely structured messages, so
// classification is by substring.
type ErrorClass string

const (
	ErrorClassToken      ErrorClass = "token"
	ErrorClassMicrophone ErrorClass = "microphone"
	ErrorClassGeneric    ErrorClass = "generic"
)

// tokenMarkers and micMarkers are matched case-insensitively against the
// vendor error text.
var (
	tokenMarkers = []string{"token", "jwt", "authenticat", "authoriz", "expired", "31205"}
	micMarkers   = []string{"microphone", "getusermedia", "notallowed", "permission", "input device", "audio device", "31402"}
)

// Classify buckets a vendor error.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassGeneric
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range tokenMarkers {
		if strings.Contains(msg, marker) {
			return ErrorClassToken
		}
	}
	for _, marker := range micMarkers {
		if strings.Contains(msg, marker) {
			return ErrorClassMicrophone
		}
	}
	return ErrorClassGeneric
}

// UserMessage returns the notification text for an error class. Identical
// messages collapse under the notifier's cooldown, which is what keeps a
// burst of vendor callbacks from becoming a notification storm.
func UserMessage(class ErrorClass) string {
	switch class {
	case ErrorClassToken:
		return "Phone authorization expired. Re-initializing the connection."
	case ErrorClassMicrophone:
		return "Microphone unavailable. Check audio permissions and input devices."
	default:
		return "Phone connection problem. The call feature may be temporarily unavailable."
	}
}
