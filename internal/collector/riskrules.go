package collector

import (
	"path/filepath"
	"strings"
)

// Static risk heuristics applied at collection time. These feed the
// risk_score feature; the detectors decide what is anomalous, the rules only
// grade how dangerous an action is on its face.

var highRiskCommands = []string{
	"rm -rf", "del /f", "format", "fdisk", "dd if=", "wget", "curl",
	"ssh", "scp", "nc ", "netcat", "powershell", "cmd.exe",
	"regedit", "gpedit", "net user", "net localgroup",
}

var mediumRiskCommands = []string{
	"chmod 777", "chown", "sudo", "su ", "mount", "umount",
	"iptables", "ufw", "firewall", "taskkill", "wmic",
}

var highRiskExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".scr": {}, ".vbs": {},
	".js": {}, ".jar": {}, ".msi": {}, ".dll": {}, ".sys": {}, ".ps1": {},
	".sh": {}, ".py": {}, ".pl": {}, ".sql": {},
}

var sensitivePathKeywords = []string{
	"password", "secret", "key", "confidential", "private",
	"admin", "config", "database", "backup",
}

// CommandRisk grades a shell command in [0, 1].
func CommandRisk(command string) float64 {
	lower := strings.ToLower(command)
	for _, c := range highRiskCommands {
		if strings.Contains(lower, c) {
			return 0.8
		}
	}
	for _, c := range mediumRiskCommands {
		if strings.Contains(lower, c) {
			return 0.5
		}
	}
	return 0.1
}

// FileRisk grades a file access in [0, 1] from its path and size.
func FileRisk(path string, size int64) float64 {
	risk := 0.1

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := highRiskExtensions[ext]; ok {
		risk += 0.3
	}

	// Large transfers look like staging for exfiltration.
	switch {
	case size > 1<<30:
		risk += 0.4
	case size > 100*(1<<20):
		risk += 0.2
	}

	lower := strings.ToLower(path)
	for _, kw := range sensitivePathKeywords {
		if strings.Contains(lower, kw) {
			risk += 0.2
			break
		}
	}

	if risk > 1.0 {
		risk = 1.0
	}
	return risk
}
