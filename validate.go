package ocirun

import (
	"path/filepath"
	"regexp"
	"strings"
)

// containerIDPattern implements the identifier grammar:
// case-sensitive, 1-253 octets, [A-Za-z0-9._-], must not begin with '.'.
var containerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,252}$`)

// ValidateContainerID enforces the container identifier grammar.
func ValidateContainerID(id string) error {
	if len(id) == 0 || len(id) > 253 {
		return validationErr("id", "must be 1-253 octets")
	}
	if strings.ContainsRune(id, '/') || strings.ContainsRune(id, filepath.Separator) {
		return validationErr("id", "must not contain path separators")
	}
	if !containerIDPattern.MatchString(id) {
		return validationErr("id", "must match [A-Za-z0-9][A-Za-z0-9._-]*")
	}
	return nil
}

// ValidatePathWithinRoot rejects paths that, after canonicalization, escape
// the given allowed root. It is used before every backend invocation that
// takes a bundle or state-root relative path.
func ValidatePathWithinRoot(root, candidate string) (string, error) {
	if strings.ContainsRune(candidate, 0) {
		return "", validationErr("path", "contains NUL byte")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", validationErr("path", "root is not resolvable: "+err.Error())
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		// root may legitimately not exist yet (e.g. state root on first run)
		absRoot, _ = filepath.Abs(root)
	}

	target := candidate
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	cleaned := filepath.Clean(target)

	resolved, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		// target may not exist yet (about to be created); validate the
		// lexical form instead, which is still safe against ".." escapes
		// because it has already been filepath.Clean'd.
		resolved = cleaned
	}

	rel, err := filepath.Rel(absRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", validationErr("path", "resolves outside of allowed root "+absRoot)
	}
	return resolved, nil
}

// validSignalNames is the symbolic-signal whitelist; numeric signals are
// rejected to keep the attack surface of "kill" auditable.
var validSignalNames = map[string]bool{
	"TERM": true,
	"KILL": true,
	"HUP":  true,
	"INT":  true,
	"USR1": true,
	"USR2": true,
}

// ValidateSignalName checks a symbolic POSIX signal name case-insensitively.
func ValidateSignalName(name string) (string, error) {
	upper := strings.TrimPrefix(strings.ToUpper(name), "SIG")
	if !validSignalNames[upper] {
		return "", validationErr("signal", "unsupported or numeric signal: "+name)
	}
	return upper, nil
}

// knownCapabilities is deliberately conservative: unknown names are rejected
// to avoid silent permission drift
var knownCapabilities = map[string]bool{
	"CHOWN": true, "DAC_OVERRIDE": true, "DAC_READ_SEARCH": true, "FOWNER": true,
	"FSETID": true, "KILL": true, "SETGID": true, "SETUID": true, "SETPCAP": true,
	"LINUX_IMMUTABLE": true, "NET_BIND_SERVICE": true, "NET_BROADCAST": true,
	"NET_ADMIN": true, "NET_RAW": true, "IPC_LOCK": true, "IPC_OWNER": true,
	"SYS_MODULE": true, "SYS_RAWIO": true, "SYS_CHROOT": true, "SYS_PTRACE": true,
	"SYS_PACCT": true, "SYS_ADMIN": true, "SYS_BOOT": true, "SYS_NICE": true,
	"SYS_RESOURCE": true, "SYS_TIME": true, "SYS_TTY_CONFIG": true, "MKNOD": true,
	"LEASE": true, "AUDIT_WRITE": true, "AUDIT_CONTROL": true, "SETFCAP": true,
	"MAC_OVERRIDE": true, "MAC_ADMIN": true, "SYSLOG": true, "WAKE_ALARM": true,
	"BLOCK_SUSPEND": true, "AUDIT_READ": true, "PERFMON": true, "BPF": true,
	"CHECKPOINT_RESTORE": true,
}

// ValidateCapability normalizes and checks a capability string. The CAP_
// prefix is optional on input but rejecting unknown names uses
// github.com/pkg/errors to attach a stack trace, since capability drift is
// the kind of bug worth a trace at the point of detection.
func ValidateCapability(name string) (string, error) {
	upper := strings.ToUpper(strings.TrimPrefix(name, "CAP_"))
	if !knownCapabilities[upper] {
		return "", wrapCapabilityError(name)
	}
	return "CAP_" + upper, nil
}

// ValidateMemoryLimit accepts memory.limit >= 0; zero means "unlimited".
func ValidateMemoryLimit(bytes int64) error {
	if bytes < 0 {
		return validationErr("memory.limit", "must be >= 0")
	}
	return nil
}

// ValidateCPUShares enforces the inclusive range [2, 262144].
func ValidateCPUShares(shares int64) error {
	if shares < 2 || shares > 262144 {
		return validationErr("cpu.shares", "must be within [2, 262144]")
	}
	return nil
}

// ValidatePids enforces pids limit >= 0 (0 means "no explicit limit" is left
// to the caller's semantics; negative values are always invalid).
func ValidatePids(limit int64) error {
	if limit < 0 {
		return validationErr("pids.limit", "must be >= 0")
	}
	return nil
}
