package util

import "regexp"

var (
	keyValuePattern = regexp.MustCompile(`(?i)(api_key|apikey|secret|token|password|access_key|private_key)\s*[:=]\s*([^\s"']+)`)
	bearerPattern   = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/-]+=*`)
	jwtPattern      = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.?[a-zA-Z0-9_-]*`)
	tbKeyPattern    = regexp.MustCompile(`(?i)tb-[a-z0-9]{20,}`)
)

// RedactSecrets removes likely credentials from text before it is
// logged or rendered.
func RedactSecrets(input string) string {
	out := keyValuePattern.ReplaceAllString(input, `$1=[REDACTED]`)
	out = bearerPattern.ReplaceAllString(out, "Bearer [REDACTED]")
	out = jwtPattern.ReplaceAllString(out, "[REDACTED JWT]")
	out = tbKeyPattern.ReplaceAllString(out, "[REDACTED KEY]")
	return out
}
