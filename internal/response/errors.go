package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrLearnerAccessOnly ErrCode = "LEARNER_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrPresentationDenied ErrCode = "PRESENTATION_MODE_DENIED"
	ErrInvalidReference   ErrCode = "INVALID_REFERENCE"
	ErrOutOfRange         ErrCode = "OUT_OF_RANGE"
	ErrBeginPending       ErrCode = "BEGIN_PENDING"
	ErrSessionClosed      ErrCode = "SESSION_CLOSED"
	ErrSessionOpen        ErrCode = "SESSION_ALREADY_OPEN"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrLearnerAccessOnly:
		return "This resource is restricted to learners."
	case ErrProctorAccessOnly:
		return "This resource is restricted to proctors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrPresentationDenied:
		return "Full-screen mode could not be started. Please allow it and try again."
	case ErrInvalidReference:
		return "The question or option does not belong to this test."
	case ErrOutOfRange:
		return "Question number is out of range."
	case ErrBeginPending:
		return "The test is already starting."
	case ErrSessionClosed:
		return "This test session has ended."
	case ErrSessionOpen:
		return "This test is already open in another tab or device."
	case ErrNoQuestions:
		return "This test has no questions."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
