// Package logging wraps zap for imgfirewall processes.
//
// Production output is one JSON object per line; development output is
// colored console text. Components take a named child so every line says
// where it came from:
//
//	scanLog := logger.Named("scan").With(zap.String("site", host))
//	scanLog.Debug("dispatched", zap.Int64("request_id", id))
//
// Debug lines can be switched on at runtime with SetVerbose, which the
// server ties to the stored logging.verbose preference.
package logging
