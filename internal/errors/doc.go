// Package errors provides coded, operator-facing errors for the collab
// server's configuration and command line.
//
// Each code maps to a category, a short message and an optional hint:
//
//   - C1xx: configuration (collab.json, flags, environment)
//   - L2xx: lock administration
//   - R3xx: connectivity to Redis, the document store and the assistant
//
// # Usage
//
//	return errors.New("C106").
//	    WithField("lock.ttl").
//	    WithDetail(`"soon" is not a duration`)
//
// PrintError renders it for a terminal:
//
//	ERROR C106: Invalid duration
//
//	  field: lock.ttl
//
//	  "soon" is not a duration
//
//	  Hint: Use Go duration syntax, for example "60s" or "250ms"
package errors
