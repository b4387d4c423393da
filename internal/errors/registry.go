package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration errors (C100-C199)

	"C101": {
		Category:   CategoryConfig,
		Message:    "Invalid collab.json",
		Suggestion: "Check that collab.json is valid JSON",
	},
	"C102": {
		Category: CategoryConfig,
		Message:  "Missing required configuration",
	},
	"C103": {
		Category:   CategoryConfig,
		Message:    "Invalid listen address",
		Suggestion: `Use host:port, for example ":8080"`,
	},
	"C104": {
		Category: CategoryConfig,
		Message:  "Invalid channel definition",
	},
	"C105": {
		Category:   CategoryConfig,
		Message:    "Duplicate channel",
		Suggestion: "Give every channel a unique name and path",
	},
	"C106": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Suggestion: `Use Go duration syntax, for example "60s" or "250ms"`,
	},
	"C107": {
		Category:   CategoryConfig,
		Message:    "Unknown document store backend",
		Suggestion: `Use "memory", "mongo" or "s3"`,
	},
	"C108": {
		Category:   CategoryConfig,
		Message:    "Configuration file not found",
		Suggestion: "Pass --config or run without one to use the defaults",
	},
	"C109": {
		Category:   CategoryConfig,
		Message:    "Invalid log setting",
		Suggestion: `Levels are debug, info, warn and error; formats are text and json`,
	},

	// Lock administration errors (L200-L299)

	"L201": {
		Category:   CategoryLock,
		Message:    "Invalid lock key",
		Suggestion: "Document IDs must not contain ':'",
	},
	"L202": {
		Category: CategoryLock,
		Message:  "Paragraph is locked by another user",
	},
	"L203": {
		Category:   CategoryLock,
		Message:    "Lock not owned",
		Suggestion: "Only the current owner can release a lock; use force-unlock to override",
	},

	// Connectivity errors (R300-R399)

	"R301": {
		Category:   CategoryConnectivity,
		Message:    "Redis unavailable",
		Suggestion: "Check redis.addr in collab.json or COLLAB_REDIS_ADDR",
	},
	"R302": {
		Category:   CategoryConnectivity,
		Message:    "Document store unavailable",
		Suggestion: "Check the docstore section of collab.json",
	},
	"R303": {
		Category: CategoryConnectivity,
		Message:  "Assistant backend unavailable",
	},
	"R304": {
		Category: CategoryConnectivity,
		Message:  "Server failed",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
