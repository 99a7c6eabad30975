// Package shellsafe validates shell commands before they reach the
// sandbox executor.
package shellsafe

import (
	"fmt"
	"regexp"
	"strings"
)

// denyPattern pairs a compiled regex with a human-readable reason.
type denyPattern struct {
	re     *regexp.Regexp
	reason string
}

// Deny patterns cover commands that are dangerous even inside the
// sandbox. Link creation is included because hard/symbolic links can
// escape a workspace bind-mount.
var denyPatterns = []denyPattern{
	{regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rR][a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*[rR])\b`), "recursive force delete"},
	{regexp.MustCompile(`\brm\s+-[rR]\b.*\s(/|/\*)\s*$`), "recursive delete of root"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;?\s*:`), "fork bomb"},
	{regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`), "system power control"},
	{regexp.MustCompile(`\binit\s+0\b`), "system power control"},
	{regexp.MustCompile(`\bdd\s+if=`), "raw disk write"},
	{regexp.MustCompile(`>\s*/dev/sd[a-z]`), "raw device write"},
	{regexp.MustCompile(`>\s*/etc/`), "write to /etc"},
	{regexp.MustCompile(`\bmkfs\b`), "filesystem format"},
	{regexp.MustCompile(`\|\s*(sh|bash|zsh|dash)\b`), "pipe to shell"},
	{regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*\w*sh\b`), "download piped to shell"},
	{regexp.MustCompile(`\bpython[23]?\s+-c\b`), "inline code evaluation"},
	{regexp.MustCompile(`\bperl\s+-e\b`), "inline code evaluation"},
	{regexp.MustCompile(`\bruby\s+-e\b`), "inline code evaluation"},
	{regexp.MustCompile(`\bnode\s+(-e|--eval)\b`), "inline code evaluation"},
	{regexp.MustCompile(`^\s*eval\b`), "shell eval"},
	{regexp.MustCompile(`^\s*exec\b`), "shell exec"},
	{regexp.MustCompile(`\b(nc|ncat|netcat|socat)\b`), "networking shell"},
	{regexp.MustCompile(`\bsudo\b`), "privilege escalation"},
	{regexp.MustCompile(`\bsu\s+(-|\w)`), "privilege escalation"},
	{regexp.MustCompile(`\bchmod\s+[ugoa]*\+s\b`), "setuid bit"},
	{regexp.MustCompile(`\bchown\s+root\b`), "ownership change to root"},
	{regexp.MustCompile(`\bcrontab\b`), "persistence via crontab"},
	{regexp.MustCompile(`\bsystemctl\b`), "persistence via systemd"},
	{regexp.MustCompile(`(^|[;&|]\s*|\s)ln\s`), "link creation"},
	{regexp.MustCompile(`\bcp\s+(-[a-zA-Z]*l|--link)\b`), "hard link via cp"},
}

// CheckCommand returns a non-empty reason if the command matches a
// deny pattern.
func CheckCommand(command string) (reason string, denied bool) {
	for _, p := range denyPatterns {
		if p.re.MatchString(command) {
			return p.reason, true
		}
	}
	return "", false
}

// Shell feature detection for simple-command mode. Sandboxed
// execution always wraps commands in sh -c, so anything that lets
// the shell reach outside a single argv must be rejected.
var (
	simpleModeChecks = []denyPattern{
		{regexp.MustCompile(`\|`), "pipes are not allowed"},
		{regexp.MustCompile(`[<>]`), "redirection is not allowed"},
		{regexp.MustCompile(`;`), "command chaining is not allowed"},
		{regexp.MustCompile(`&&|\|\||&`), "command chaining is not allowed"},
		{regexp.MustCompile(`(^|\s)(cd|chdir|pushd|popd)(\s|$)`), "directory changes are not allowed"},
		{regexp.MustCompile(`\$\{[^}]*\}`), "variable expansion is not allowed"},
		{regexp.MustCompile(`\$\(`), "command substitution is not allowed"},
		{regexp.MustCompile("`"), "command substitution is not allowed"},
		{regexp.MustCompile(`\$[A-Za-z_]`), "variable expansion is not allowed"},
		{regexp.MustCompile(`(^|[\s=:])~(/|\s|$)`), "tilde expansion is not allowed"},
	}
)

// CheckSimpleMode validates that the command is a single simple
// command with no shell expansion. Used when the executor is
// sandboxed and the exec tool runs in simple-command mode.
func CheckSimpleMode(command string) error {
	for _, p := range simpleModeChecks {
		if p.re.MatchString(command) {
			return fmt.Errorf("%s in sandboxed mode", p.reason)
		}
	}
	return nil
}

// IsEnvFile reports whether path names a .env file (any directory,
// including suffixed variants like .env.local).
func IsEnvFile(path string) bool {
	base := path
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		base = path[i+1:]
	}
	return base == ".env" || strings.HasPrefix(base, ".env.")
}
