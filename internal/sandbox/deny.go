package sandbox

import (
	"strings"
)

// shellDenyList contains substrings that must not appear in a shell command
// line before execution. It blocks clearly destructive commands: recursive
// root deletes, raw disk writes, filesystem formats, fork bombs, and
// power-state changes. Matching is case-insensitive.
//
// This is a best-effort heuristic, not a security boundary: it is trivially
// bypassable via quoting or encoding. True isolation (namespaces, containers,
// a restricted user) is the caller's responsibility.
var shellDenyList = []string{
	"rm -rf /",
	"rm -fr /",
	"rm -rf ~",
	"dd if=/dev/zero of=/dev/",
	"dd of=/dev/sd",
	"> /dev/sd",
	"mkfs.",
	"mkfs ",
	":(){ :|:& };:", // fork bomb
	"shutdown",
	"reboot",
	"poweroff",
	"init 0",
	"chmod -R 777 /",
	"curl | sh",
	"curl | bash",
	"wget | sh",
	"wget | bash",
}

// BlockedShellCommand returns the denylist entry the command line matched, or
// "" if the command is allowed. Call this before spawning any subprocess for
// agent-authored commands; a non-empty return means fail fast with no spawn.
func BlockedShellCommand(cmdLine string) string {
	lower := strings.ToLower(strings.TrimSpace(cmdLine))
	for _, deny := range shellDenyList {
		if strings.Contains(lower, strings.ToLower(deny)) {
			return deny
		}
	}
	return ""
}
