package domain

// FailureReason classifies why a download ended in failure
type FailureReason string

const (
	FailureNetworkError      FailureReason = "network_error"
	FailureInsufficientSpace FailureReason = "insufficient_space"
	FailureFileConflict      FailureReason = "file_conflict"
	FailureTooManyRedirects  FailureReason = "too_many_redirects"
	FailureDeviceUnavailable FailureReason = "device_unavailable"
	FailureCannotResume      FailureReason = "cannot_resume"
	FailureServerError       FailureReason = "server_error"
	FailureUnknown           FailureReason = "unknown"
)

// ParseFailureReason maps a stored value back to a reason.
// Unrecognized values classify as FailureUnknown.
func ParseFailureReason(s string) FailureReason {
	switch r := FailureReason(s); r {
	case FailureNetworkError, FailureInsufficientSpace, FailureFileConflict,
		FailureTooManyRedirects, FailureDeviceUnavailable, FailureCannotResume,
		FailureServerError:
		return r
	default:
		return FailureUnknown
	}
}

// Message returns the single user-facing message for the reason
func (r FailureReason) Message() string {
	switch r {
	case FailureNetworkError:
		return "Network data error"
	case FailureInsufficientSpace:
		return "Insufficient storage space"
	case FailureFileConflict:
		return "File already exists"
	case FailureTooManyRedirects:
		return "Too many redirects"
	case FailureDeviceUnavailable:
		return "Storage device not found"
	case FailureCannotResume:
		return "Cannot resume download"
	case FailureServerError:
		return "Server error"
	default:
		return "Download failed"
	}
}

// Err maps the reason onto the error taxonomy
func (r FailureReason) Err() error {
	switch r {
	case FailureNetworkError, FailureTooManyRedirects, FailureServerError, FailureCannotResume:
		return ErrNetworkError
	case FailureInsufficientSpace:
		return ErrInsufficientSpace
	case FailureFileConflict:
		return ErrConflict
	case FailureDeviceUnavailable:
		return ErrAccessDenied
	default:
		return ErrUnknown
	}
}

// Transient reports whether another attempt may succeed without user action
func (r FailureReason) Transient() bool {
	return r == FailureNetworkError || r == FailureServerError
}
