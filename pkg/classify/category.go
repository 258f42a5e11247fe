// Package classify maps raw failures onto the fixed error taxonomy shown to
// users, together with remediation guidance.
package classify

// Category is one of the fixed error classes.
type Category string

const (
	Network        Category = "NETWORK"
	Authentication Category = "AUTHENTICATION"
	Validation     Category = "VALIDATION"
	Permission     Category = "PERMISSION"
	NotFound       Category = "NOT_FOUND"
	ServerError    Category = "SERVER_ERROR"
	ClientError    Category = "CLIENT_ERROR"
)

// Definition is the static presentation data of a category.
type Definition struct {
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	Retryable   bool     `json:"retryable"`
}

var definitions = map[Category]Definition{
	Network: {
		Title:   "Connection Problem",
		Message: "Unable to reach the server. Please check your connection.",
		Suggestions: []string{
			"Check your internet connection",
			"Try again in a few moments",
			"Contact support if the problem persists",
		},
		Retryable: true,
	},
	Authentication: {
		Title:   "Authentication Required",
		Message: "Your session has expired or you are not logged in.",
		Suggestions: []string{
			"Log in again",
			"Check your username and password",
		},
	},
	Validation: {
		Title:   "Invalid Input",
		Message: "Some of the submitted data is invalid.",
		Suggestions: []string{
			"Check the highlighted fields",
			"Make sure all required fields are filled in",
			"Verify the format of your input",
		},
	},
	Permission: {
		Title:   "Access Denied",
		Message: "You do not have permission to perform this action.",
		Suggestions: []string{
			"Contact an administrator to request access",
			"Log in with a different account",
		},
	},
	NotFound: {
		Title:   "Not Found",
		Message: "The requested item could not be found.",
		Suggestions: []string{
			"Refresh the page",
			"Check that the item has not been deleted",
		},
	},
	ServerError: {
		Title:   "Server Error",
		Message: "The server encountered a problem.",
		Suggestions: []string{
			"Try again in a few moments",
			"Contact support if the problem persists",
		},
		Retryable: true,
	},
	ClientError: {
		Title:   "Unexpected Error",
		Message: "Something went wrong in the application.",
		Suggestions: []string{
			"Refresh the page",
			"Contact support if the problem persists",
		},
	},
}

// Categories lists every category in declaration order.
func Categories() []Category {
	return []Category{Network, Authentication, Validation, Permission, NotFound, ServerError, ClientError}
}

// Describe returns the definition of c. Unknown categories describe as
// ClientError.
func Describe(c Category) Definition {
	def, ok := definitions[c]
	if !ok {
		def = definitions[ClientError]
	}
	// Callers may append to the slice; hand out a copy.
	def.Suggestions = append([]string(nil), def.Suggestions...)
	return def
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	_, ok := definitions[c]
	return ok
}
