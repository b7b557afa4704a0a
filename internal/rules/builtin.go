package rules

import "regexp"

// DefaultPatterns returns the builtin sensitive pattern catalog in scan
// order. Order matters: each pattern scans the buffer already rewritten by
// the patterns before it, so the specific shapes (card brands, key formats)
// run before the general ones (phone numbers, digit runs).
func DefaultPatterns() []SensitivePattern {
	return []SensitivePattern{
		{
			ID:          "payment.card.visa",
			Name:        "Visa card number",
			Category:    CategoryPayment,
			Description: "Visa card numbers, 13 or 16 digits",
			FixedWidth:  true,
			Regexp:      regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`),
		},
		{
			ID:          "payment.card.mastercard",
			Name:        "Mastercard number",
			Category:    CategoryPayment,
			Description: "Mastercard numbers, 16 digits",
			FixedWidth:  true,
			Regexp:      regexp.MustCompile(`\b5[1-5][0-9]{14}\b`),
		},
		{
			ID:          "payment.card.amex",
			Name:        "American Express card number",
			Category:    CategoryPayment,
			Description: "Amex card numbers, 15 digits",
			FixedWidth:  true,
			Regexp:      regexp.MustCompile(`\b3[47][0-9]{13}\b`),
		},
		{
			ID:          "payment.card.discover",
			Name:        "Discover card number",
			Category:    CategoryPayment,
			Description: "Discover card numbers, 16 digits",
			FixedWidth:  true,
			Regexp:      regexp.MustCompile(`\b6(?:011|5[0-9]{2})[0-9]{12}\b`),
		},
		{
			ID:          "payment.card.separated",
			Name:        "Separated card number",
			Category:    CategoryPayment,
			Description: "16-digit card numbers grouped with spaces or dashes",
			FixedWidth:  true,
			Regexp:      regexp.MustCompile(`\b(?:[0-9]{4}[ -]){3}[0-9]{4}\b`),
		},
		{
			ID:          "credentials.private_key",
			Name:        "Private key block",
			Category:    CategoryCredentials,
			Description: "PEM-encoded private key blocks",
			Regexp:      regexp.MustCompile(`(?s)-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----.*?-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		},
		{
			ID:          "credentials.connection_string",
			Name:        "Connection string password",
			Category:    CategoryCredentials,
			Description: "Passwords embedded in database and broker URLs",
			Regexp:      regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?)://[^\s:@/]+:([^\s@]+)@`),
		},
		{
			ID:          "credentials.jwt",
			Name:        "JSON Web Token",
			Category:    CategoryCredentials,
			Description: "Three-part base64url tokens with a JSON header",
			Regexp:      regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]+`),
		},
		{
			ID:          "credentials.bearer_token",
			Name:        "Bearer token",
			Category:    CategoryCredentials,
			Description: "Bearer authorization values",
			Regexp:      regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9_\-.=+/]{16,})`),
		},
		{
			ID:          "credentials.openai_key",
			Name:        "OpenAI API key",
			Category:    CategoryCredentials,
			Description: "Keys with the sk- prefix",
			Regexp:      regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		},
		{
			ID:          "credentials.github_token",
			Name:        "GitHub token",
			Category:    CategoryCredentials,
			Description: "Tokens with the ghp_/gho_/ghu_/ghs_/ghr_ prefixes",
			Regexp:      regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}\b`),
		},
		{
			ID:          "credentials.slack_token",
			Name:        "Slack token",
			Category:    CategoryCredentials,
			Description: "Tokens with the xoxb-/xoxp-/xoxa-/xoxr-/xoxs- prefixes",
			Regexp:      regexp.MustCompile(`\bxox[bpars]-[A-Za-z0-9-]{10,48}`),
		},
		{
			ID:          "credentials.aws_access_key",
			Name:        "AWS access key ID",
			Category:    CategoryCredentials,
			Description: "AKIA/ASIA access key identifiers",
			Regexp:      regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
		},
		{
			ID:          "credentials.password_assignment",
			Name:        "Password assignment",
			Category:    CategoryCredentials,
			Description: "password/passwd/pwd followed by a value",
			Regexp:      regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*(\S+)`),
		},
		{
			ID:          "credentials.api_key_assignment",
			Name:        "API key assignment",
			Category:    CategoryCredentials,
			Description: "api_key/secret_key/access_token followed by a value",
			Regexp:      regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|secret[_-]?key|access[_-]?token)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{8,})"?`),
		},
		{
			ID:          "government_id.ssn",
			Name:        "US Social Security number",
			Category:    CategoryGovernmentID,
			Description: "SSNs in the NNN-NN-NNNN form",
			Regexp:      regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
		},
		{
			ID:          "contact.email",
			Name:        "Email address",
			Category:    CategoryContact,
			Description: "RFC-shaped email addresses",
			Regexp:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		},
		{
			ID:          "contact.phone",
			Name:        "Phone number",
			Category:    CategoryContact,
			Description: "10+ digit phone numbers with common separators",
			Regexp:      regexp.MustCompile(`(?:\+?[0-9]{1,3}[-. ]?)?\(?[0-9]{3}\)?[-. ]?[0-9]{3}[-. ]?[0-9]{4}\b`),
		},
		{
			ID:          "network.ipv4",
			Name:        "IPv4 address",
			Category:    CategoryNetwork,
			Description: "Dotted-quad IPv4 addresses",
			Regexp:      regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
		},
		{
			ID:          "network.ipv6",
			Name:        "IPv6 address",
			Category:    CategoryNetwork,
			Description: "Fully expanded IPv6 addresses",
			Regexp:      regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
		},
		{
			ID:          "network.mac",
			Name:        "MAC address",
			Category:    CategoryNetwork,
			Description: "Colon or dash separated hardware addresses",
			Regexp:      regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`),
		},
	}
}
