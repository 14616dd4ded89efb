// Package export builds session export trees, gates them through the
// secret scanner, and pushes them to a remote repository.
package export

import (
	"regexp"
	"sort"
)

// secretPattern pairs a detection regex with a human-readable kind.
type secretPattern struct {
	pattern *regexp.Regexp
	kind    string
}

// secretPatterns is the fixed rule set applied to artifact contents and
// trace input/output before any bytes leave the system.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?[\w-]{20,}`), "API Key"},
	{regexp.MustCompile(`(?i)(secret|token|password|passwd|pwd)\s*[:=]\s*["']?[\w-]{8,}`), "Secret/Password"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "OpenAI API Key"},
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`), "Anthropic API Key"},
	{regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`), "GitHub PAT"},
	{regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`), "GitHub OAuth"},
	{regexp.MustCompile(`-----BEGIN (RSA |EC |DSA )?PRIVATE KEY-----`), "Private Key"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`), "Bearer Token"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AWS Access Key ID"},
	{regexp.MustCompile(`(?i)aws.{0,20}secret.{0,20}['"][0-9a-zA-Z/+]{40}['"]`), "AWS Secret Key"},
}

// Finding is one detected secret occurrence.
type Finding struct {
	Match string
	Start int
	End   int
	Kind  string
}

// ScanForSecrets returns all pattern matches in content.
func ScanForSecrets(content string) []Finding {
	var findings []Finding
	for _, sp := range secretPatterns {
		for _, m := range sp.pattern.FindAllStringIndex(content, -1) {
			findings = append(findings, Finding{
				Match: content[m[0]:m[1]],
				Start: m[0],
				End:   m[1],
				Kind:  sp.kind,
			})
		}
	}
	return findings
}

// HasSecrets reports whether content matches any secret pattern.
func HasSecrets(content string) bool {
	for _, sp := range secretPatterns {
		if sp.pattern.MatchString(content) {
			return true
		}
	}
	return false
}

// Redact replaces every matched substring with [REDACTED:<kind>] and
// returns the redacted content plus the number of secrets found.
// Replacement runs back-to-front so earlier offsets stay valid.
func Redact(content string) (string, int) {
	findings := ScanForSecrets(content)
	if len(findings) == 0 {
		return content, 0
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Start > findings[j].Start })

	redacted := content
	for _, f := range findings {
		redacted = redacted[:f.Start] + "[REDACTED:" + f.Kind + "]" + redacted[f.End:]
	}
	return redacted, len(findings)
}
