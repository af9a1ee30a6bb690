package masking

import "regexp"

// Pattern is one compiled redaction rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns covers the credential shapes that show up in agent tool
// output: provider API keys, bearer tokens, cloud credentials, key material.
// Emails and generic base64 are deliberately not masked; payloads carry user
// ids and content hashes that those patterns would destroy.
func builtinPatterns() []*Pattern {
	return []*Pattern{
		{
			Name:        "api_key",
			Regex:       regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`),
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
		},
		{
			Name:        "provider_key",
			Regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}\b`),
			Replacement: `__MASKED_API_KEY__`,
		},
		{
			Name:        "password",
			Regex:       regexp.MustCompile(`(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`),
			Replacement: `"password": "__MASKED_PASSWORD__"`,
		},
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`),
			Replacement: `Bearer __MASKED_TOKEN__`,
		},
		{
			Name:        "token_field",
			Regex:       regexp.MustCompile(`(?i)(?:token|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`),
			Replacement: `"token": "__MASKED_TOKEN__"`,
		},
		{
			Name:        "certificate",
			Regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`),
			Replacement: `__MASKED_CERTIFICATE__`,
		},
		{
			Name:        "ssh_key",
			Regex:       regexp.MustCompile(`ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`),
			Replacement: `__MASKED_SSH_KEY__`,
		},
		{
			Name:        "aws_access_key",
			Regex:       regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
			Replacement: `__MASKED_AWS_KEY__`,
		},
		{
			Name:        "github_token",
			Regex:       regexp.MustCompile(`\bgh[ps]_[A-Za-z0-9_]{36,255}\b`),
			Replacement: `__MASKED_GITHUB_TOKEN__`,
		},
		{
			Name:        "slack_token",
			Regex:       regexp.MustCompile(`(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`),
			Replacement: `__MASKED_SLACK_TOKEN__`,
		},
	}
}
