// Package seeder implements the first-run population pass (§4.7):
// before the daemon has observed anything, it registers the
// configured manual-app list as Priority-pool Exes and any resolvable
// desktop-entry launch targets as Observation-pool Exes so the very
// first prediction tick has something to reason about.
package seeder

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/model"
)

// Seed populates s from cfg's manual-app list and every *.desktop entry
// found under dirs, returning the number of newly registered Exes.
// Already-tracked desktop-entry paths are left untouched (RegisterExe
// is a no-op for a known path); already-tracked manual apps are
// promoted to the priority pool.
func Seed(s *model.State, cfg *config.Config, dirs []string, now int64) int {
	n := RegisterManualApps(s, cfg, now)
	for _, path := range desktopEntryExecutables(dirs) {
		if _, created := s.RegisterExe(path, now, cfg.Model.UseCorrelation); created {
			n++
		}
	}
	return n
}

// RegisterManualApps resolves every path in cfg's manual-app list and
// registers it as a priority-pool Exe, promoting any that are already
// tracked. Used by both the first-run Seed and the reload control verb
// (§4.8: "re-register manual apps").
func RegisterManualApps(s *model.State, cfg *config.Config, now int64) int {
	n := 0
	for _, path := range resolveManualApps(cfg.System.ManualApps) {
		exe, created := s.RegisterExe(path, now, cfg.Model.UseCorrelation)
		if created {
			n++
		}
		exe.PoolOf = model.PoolPriority
	}
	return n
}

func resolveManualApps(apps []string) []string {
	out := make([]string, 0, len(apps))
	for _, app := range apps {
		if path, ok := resolveExecutable(app); ok {
			out = append(out, path)
		}
	}
	return out
}

// desktopEntryExecutables scans every *.desktop file under dirs and
// resolves each entry's Exec= launch target to an absolute path.
func desktopEntryExecutables(dirs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, dir := range dirs {
		entries, err := filepath.Glob(filepath.Join(dir, "*.desktop"))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			cmd, ok := execFromDesktopFile(entry)
			if !ok {
				continue
			}
			path, ok := resolveExecutable(cmd)
			if !ok {
				continue
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			out = append(out, path)
		}
	}
	return out
}

func execFromDesktopFile(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "Exec=") {
			continue
		}
		cmd := strings.TrimPrefix(line, "Exec=")
		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			return "", false
		}
		return stripFieldCodes(fields[0]), true
	}
	return "", false
}

// stripFieldCodes removes a desktop-entry Exec= field code suffix
// (e.g. "firefox %u" is already split by Fields; this handles
// "firefox%u" glued forms some generators emit).
func stripFieldCodes(token string) string {
	if i := strings.IndexByte(token, '%'); i >= 0 {
		return token[:i]
	}
	return token
}

func resolveExecutable(cmd string) (string, bool) {
	if cmd == "" {
		return "", false
	}
	if filepath.IsAbs(cmd) {
		if _, err := os.Stat(cmd); err == nil {
			return cmd, true
		}
		return "", false
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return "", false
	}
	return path, true
}
