package memory

import "regexp"

// secretPatterns match common credential formats. The list leans toward
// false positives: rejecting a harmless fact costs nothing, storing a
// real credential in long-term memory is unrecoverable.
var secretPatterns = []*regexp.Regexp{
	// Provider API keys by prefix
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9\-]{20,}`),
	regexp.MustCompile(`AIza[a-zA-Z0-9\-_]{35}`),
	regexp.MustCompile(`(?i)gh[po]_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
	regexp.MustCompile(`(?i)xox[bpsa]-[a-zA-Z0-9\-]{10,}`),

	// JWTs and bearer tokens
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_\-]{20,}\.eyJ[a-zA-Z0-9_\-]+`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),

	// Connection strings with inline credentials
	regexp.MustCompile(`(?i)(?:postgres|mysql|mongodb|redis)://\S+@\S+`),

	// PEM private keys
	regexp.MustCompile(`-{5}BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-{5}`),

	// Generic assignments of secret-named values
	regexp.MustCompile(`(?i)(?:api[_-]?key|access[_-]?token|secret[_-]?key|auth[_-]?token)\s*[:=]\s*["']?[a-zA-Z0-9\-_.]{16,}["']?`),
	regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*["']?[^\s"']{8,}["']?`),
}

// ContainsSecrets reports whether text matches any known secret pattern.
func ContainsSecrets(text string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
