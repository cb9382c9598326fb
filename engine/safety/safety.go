// Package safety classifies command strings against a catalogue of dangerous
// and workspace-escaping patterns. Matching is substring/regex based over the
// literal command text, not a shell parse: deliberately conservative, it
// prefers blocking an unusual-but-legitimate command over letting a
// destructive one through.
package safety

import (
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// Category identifies the class of blocked pattern a command matched.
type Category string

const (
	CategoryDestructiveDeletion Category = "destructive-deletion"
	CategoryPrivilegeEscalation Category = "privilege-escalation"
	CategorySystemModification  Category = "system-modification"
	CategoryRemoteCodePiping    Category = "remote-code-piping"
	CategoryNetworkTools        Category = "network-tools"
	CategoryProcessControl      Category = "process-control"
	CategoryFilesystemControl   Category = "filesystem-control"
	CategoryCommandSubstitution Category = "command-substitution"
	CategoryForkBomb            Category = "fork-bomb"
	CategoryNetworkTampering    Category = "network-tampering"
	CategorySystemFileWrite     Category = "system-file-write"
	CategoryObfuscation         Category = "obfuscation"
	CategoryPathTraversal       Category = "path-traversal"
	CategorySymlinkCreation     Category = "symlink-creation"
	CategoryWorkspaceEscape     Category = "workspace-escape"
)

// Result is the outcome of a safety check. When Safe is false, Category names
// the matched rule class and Reason explains the block to the caller.
type Result struct {
	Safe     bool
	Category Category
	Reason   string
}

// Config carries per-backend overrides for the safety catalogue.
type Config struct {
	// AllowedPatterns suppress dangerous-pattern matches for commands that
	// are known-safe despite looking suspicious.
	AllowedPatterns []*regexp.Regexp
}

type rule struct {
	category Category
	pattern  *regexp.Regexp
}

// Commands allowed even though they collide with dangerous patterns.
var defaultAllowedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^gcloud\s+.*\brsync\b`),
	regexp.MustCompile(`^gcloud\s+storage\s+rsync\b`),
}

// Matched against the trimmed, lowercased command. Any single match blocks.
var dangerousRules = []rule{
	{CategoryDestructiveDeletion, regexp.MustCompile(`\brm\b.*-rf?\b.*[/~*]`)},
	{CategoryDestructiveDeletion, regexp.MustCompile(`\brm\b.*[/~*].*-rf?\b`)},
	{CategoryDestructiveDeletion, regexp.MustCompile(`\bdd\b.*\bof=/dev/`)},
	{CategoryPrivilegeEscalation, regexp.MustCompile(`\bsudo\b`)},
	{CategoryPrivilegeEscalation, regexp.MustCompile(`\bsu\b`)},
	{CategoryPrivilegeEscalation, regexp.MustCompile(`\bdoas\b`)},
	{CategorySystemModification, regexp.MustCompile(`\bchmod\b.*777`)},
	{CategorySystemModification, regexp.MustCompile(`\bchown\b.*root`)},
	{CategoryRemoteCodePiping, regexp.MustCompile(`curl\b.*\|\s*(sh|bash|zsh|fish)\b`)},
	{CategoryRemoteCodePiping, regexp.MustCompile(`wget\b.*\|\s*(sh|bash|zsh|fish)\b`)},
	{CategoryRemoteCodePiping, regexp.MustCompile(`\|\s*(sh|bash|zsh|fish)\s*$`)},
	{CategoryNetworkTools, regexp.MustCompile(`\bnc\b`)},
	{CategoryNetworkTools, regexp.MustCompile(`\bncat\b`)},
	{CategoryNetworkTools, regexp.MustCompile(`\bnetcat\b`)},
	{CategoryNetworkTools, regexp.MustCompile(`\btelnet\b`)},
	{CategoryNetworkTools, regexp.MustCompile(`\bftp\b`)},
	{CategoryNetworkTools, regexp.MustCompile(`\bssh\b`)},
	{CategoryNetworkTools, regexp.MustCompile(`\bscp\b`)},
	{CategoryNetworkTools, regexp.MustCompile(`\brsync\b`)},
	{CategoryProcessControl, regexp.MustCompile(`\bkill\s+-9`)},
	{CategoryProcessControl, regexp.MustCompile(`\bkillall\b`)},
	{CategoryProcessControl, regexp.MustCompile(`\bpkill\b`)},
	{CategoryProcessControl, regexp.MustCompile(`\bshutdown\b`)},
	{CategoryProcessControl, regexp.MustCompile(`\breboot\b`)},
	{CategoryProcessControl, regexp.MustCompile(`\bhalt\b`)},
	{CategoryProcessControl, regexp.MustCompile(`\binit\s+[06]\b`)},
	{CategoryFilesystemControl, regexp.MustCompile(`\bmount\b`)},
	{CategoryFilesystemControl, regexp.MustCompile(`\bumount\b`)},
	{CategoryFilesystemControl, regexp.MustCompile(`\bfdisk\b`)},
	{CategoryFilesystemControl, regexp.MustCompile(`\bmkfs\b`)},
	{CategoryFilesystemControl, regexp.MustCompile(`\bfsck\b`)},
	{CategoryCommandSubstitution, regexp.MustCompile("`[^`]+`")},
	{CategoryCommandSubstitution, regexp.MustCompile(`\$\([^)]+\)`)},
	{CategoryCommandSubstitution, regexp.MustCompile(`\beval\b`)},
	{CategoryForkBomb, regexp.MustCompile(`:\(\)`)},
	{CategoryForkBomb, regexp.MustCompile(`fork\(\)`)},
	{CategoryForkBomb, regexp.MustCompile(`\bwhile\s+true\b`)},
	{CategoryForkBomb, regexp.MustCompile(`\byes\b.*>\s*/dev/null`)},
	{CategoryNetworkTampering, regexp.MustCompile(`\biptables\b`)},
	{CategoryNetworkTampering, regexp.MustCompile(`\bifconfig\b`)},
	{CategorySystemFileWrite, regexp.MustCompile(`>>?\s*/etc/`)},
	{CategorySystemFileWrite, regexp.MustCompile(`\bcat\b.*>\s*/etc/`)},
	{CategorySystemFileWrite, regexp.MustCompile(`\becho\b.*>\s*/etc/`)},
	{CategoryObfuscation, regexp.MustCompile(`[a-z]""[a-z]`)},
	{CategoryPathTraversal, regexp.MustCompile(`\b(cp|mv|ln)\b.*\.\./`)},
	{CategorySymlinkCreation, regexp.MustCompile(`\bln\s+-s`)},
}

// Matched against the heredoc-stripped command (original casing): attempts to
// move the shell or shell state outside the workspace boundary.
var escapeRules = []*regexp.Regexp{
	regexp.MustCompile(`\bcd\b`),
	regexp.MustCompile(`\bpushd\b`),
	regexp.MustCompile(`\bpopd\b`),
	regexp.MustCompile(`export\s+PATH=`),
	regexp.MustCompile(`export\s+HOME=`),
	regexp.MustCompile(`export\s+PWD=`),
	regexp.MustCompile(`~/`),
	regexp.MustCompile(`\$HOME`),
	regexp.MustCompile(`\$\{HOME\}`),
	regexp.MustCompile(`\.\.[/\\]`),
	regexp.MustCompile(`\$\([^)]+\)`),
	regexp.MustCompile("`[^`]+`"),
}

var pipeToShellPattern = regexp.MustCompile(`(?:curl|wget)\b.*\|\s*(?:sh|bash|zsh|fish)\b`)

// IsAllowed reports whether the command matches an allowed-pattern override.
func IsAllowed(command string, cfg *Config) bool {
	normalized := strings.TrimSpace(command)
	for _, pattern := range defaultAllowedPatterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}
	if cfg != nil {
		for _, pattern := range cfg.AllowedPatterns {
			if pattern.MatchString(normalized) {
				return true
			}
		}
	}
	return false
}

// MatchDangerous returns the first dangerous rule category the command
// matches, honoring allowed-pattern overrides.
func MatchDangerous(command string, cfg *Config) (Category, bool) {
	if IsAllowed(command, cfg) {
		return "", false
	}
	normalized := strings.ToLower(strings.TrimSpace(command))
	for _, r := range dangerousRules {
		if r.pattern.MatchString(normalized) {
			return r.category, true
		}
	}
	return "", false
}

// IsDangerous reports whether the command contains a blocked operation.
func IsDangerous(command string, cfg *Config) bool {
	_, matched := MatchDangerous(command, cfg)
	return matched
}

// IsEscapingWorkspace reports whether the command attempts to break out of
// the workspace (directory changes, home references, traversal). Heredoc
// bodies are stripped first so document content cannot trigger false matches.
func IsEscapingWorkspace(command string) bool {
	stripped := stripHeredocs(command)
	for _, pattern := range escapeRules {
		if pattern.MatchString(stripped) {
			return true
		}
	}
	return false
}

// BaseCommand extracts the leading program name from a command string.
func BaseCommand(command string) string {
	fields, err := shlex.Split(strings.TrimSpace(command))
	if err != nil || len(fields) == 0 {
		fields = strings.Fields(command)
	}
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Check runs the full safety classification: dangerous catalogue first, then
// workspace-escape catalogue. A nil config uses only the default catalogue.
func Check(command string, cfg *Config) Result {
	if category, matched := MatchDangerous(command, cfg); matched {
		if pipeToShellPattern.MatchString(strings.ToLower(command)) {
			return Result{
				Safe:     false,
				Category: CategoryRemoteCodePiping,
				Reason: "Piping downloads to shell is dangerous. Download to a file first " +
					"(e.g., 'curl -O <url>'), inspect it, then execute if safe.",
			}
		}
		return Result{
			Safe:     false,
			Category: category,
			Reason:   "dangerous command '" + BaseCommand(command) + "' is not allowed",
		}
	}
	if IsEscapingWorkspace(command) {
		return Result{
			Safe:     false,
			Category: CategoryWorkspaceEscape,
			Reason:   escapeReason(command),
		}
	}
	return Result{Safe: true}
}

var (
	cdPattern        = regexp.MustCompile(`\bcd\b`)
	homePattern      = regexp.MustCompile(`~/|\$HOME`)
	traversalPattern = regexp.MustCompile(`\.\.[/\\]`)
)

func escapeReason(command string) string {
	switch {
	case cdPattern.MatchString(command):
		return "Directory change commands are not allowed"
	case homePattern.MatchString(command):
		return "Home directory references are not allowed"
	case traversalPattern.MatchString(command):
		return "Parent directory traversal is not allowed"
	default:
		return "Command attempts to escape workspace"
	}
}

var heredocStart = regexp.MustCompile(`<<\s*['"]?(\w+)['"]?`)

// stripHeredocs replaces heredoc bodies with a placeholder. RE2 has no
// backreferences, so the closing delimiter is located manually.
func stripHeredocs(command string) string {
	var builder strings.Builder
	remaining := command
	for {
		loc := heredocStart.FindStringSubmatchIndex(remaining)
		if loc == nil {
			builder.WriteString(remaining)
			return builder.String()
		}
		delimiter := remaining[loc[2]:loc[3]]
		builder.WriteString(remaining[:loc[0]])
		builder.WriteString("<<HEREDOC_PLACEHOLDER")
		rest := remaining[loc[1]:]
		end := strings.Index(rest, "\n"+delimiter)
		if end < 0 {
			// No terminator: the shell would treat the rest as heredoc
			// input, but a conservative classifier must still inspect it.
			builder.WriteString(rest)
			return builder.String()
		}
		remaining = rest[end+1+len(delimiter):]
	}
}
