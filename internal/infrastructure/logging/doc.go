// Package logging provides structured logging for the beacon fence service.
//
// It wraps log/slog so every entry carries the service name and build
// version. JSON is the default output; "text" is friendlier on a terminal.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take the small Logger interfaces declared in their own
// packages; *logging.Logger satisfies all of them.
//
// Never log JWT secrets, broker passwords or tokens.
package logging
