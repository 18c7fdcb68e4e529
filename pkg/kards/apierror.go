package kards

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// apiErrorJSON is the error shape the Drift backend returns:
//
//	{
//	    "error": {
//	        "code": "user_error",
//	        "description": "Invalid JTI. Token ... does not exist."
//	    },
//	    "message": "Unauthorized",
//	    "status_code": 401
//	}
type apiErrorJSON struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Error      struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// ApiError is a classified application error from the Kards backend.
type ApiError struct {
	StatusCode  int
	Message     string
	Code        string
	Description string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("kards api error %d (%s): %s", e.StatusCode, e.Code, e.Description)
}

// parseApiError reports whether body is the known error shape and, if so,
// returns it as an *ApiError.
func parseApiError(body []byte) (*ApiError, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}
	for _, key := range []string{"error", "message", "status_code"} {
		if _, ok := raw[key]; !ok {
			return nil, false
		}
	}

	var parsed apiErrorJSON
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false
	}
	if parsed.Error.Code == "" && parsed.Error.Description == "" {
		return nil, false
	}

	return &ApiError{
		StatusCode:  parsed.StatusCode,
		Message:     parsed.Message,
		Code:        parsed.Error.Code,
		Description: parsed.Error.Description,
	}, true
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *ApiError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}

// IsBan reports whether err is the credential rejection that means the
// account itself is disabled, as opposed to an expired platform ticket.
func IsBan(err error) bool {
	var apiErr *ApiError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "disabled") ||
		strings.Contains(strings.ToLower(apiErr.Description), "disabled")
}
