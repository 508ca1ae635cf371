// Package installer implements spec.md §4.7's directory/installer
// helpers: extension classification, magic-byte sniffing, and delegation
// to the host OS's default-application handler. Magic-byte sniffing is
// grounded on the teacher's internal/utils/filename.go, which used
// h2non/filetype to recognize a downloaded file's type from its header
// bytes; that file's own filename-from-Content-Disposition heuristic had
// no wiring point (spec.md §4.2's naming rule is the plain
// filepath.Base(rawURL) literal, not header sniffing), so only the
// filetype.MatchFile use survives, re-homed here as IsInstaller's
// fallback for installers saved under the wrong or no extension.
// OS-open delegation is grounded on
// kmkrofficial-project-tachyon/internal/core/os_utils.go's
// runtime.GOOS-switched exec.Command dispatch.
package installer

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/h2non/filetype"
)

// installerExtensions is spec.md §4.7's exact set.
var installerExtensions = map[string]bool{
	"exe":      true,
	"msi":      true,
	"dmg":      true,
	"pkg":      true,
	"deb":      true,
	"rpm":      true,
	"appimage": true,
}

func ext(path string) string {
	e := filepath.Ext(path)
	return strings.ToLower(strings.TrimPrefix(e, "."))
}

// IsInstaller reports whether path's lowercased extension is one of
// spec.md §4.7's installer extensions, falling back to a magic-byte sniff
// of the file's header when the extension doesn't match (or is missing) —
// installers are sometimes saved without a recognizable suffix.
func IsInstaller(path string) bool {
	if installerExtensions[ext(path)] {
		return true
	}
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return false
	}
	return installerExtensions[kind.Extension]
}

// isExecutableOrApp covers the "run" bucket of SuggestedAction: a plain
// executable or macOS .app bundle that isn't itself classified as an
// installer package.
func isExecutableOrApp(path string) bool {
	e := ext(path)
	return e == "exe" || e == "app" || (e == "" && isExecutableBit(path))
}

func isExecutableBit(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&0111 != 0
}

// Action is the suggested next step for a file, per spec.md §4.7/§6.
type Action string

const (
	ActionDownload Action = "download"
	ActionInstall  Action = "install"
	ActionRun      Action = "run"
	ActionOpen     Action = "open"
)

// SuggestedAction implements suggested_action(path).
func SuggestedAction(path string) Action {
	if !FileExists(path) {
		return ActionDownload
	}
	if IsInstaller(path) {
		return ActionInstall
	}
	if isExecutableOrApp(path) {
		return ActionRun
	}
	return ActionOpen
}

// FileExists implements file_exists(path).
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsAppInstalled implements is_app_installed(path): a best-effort check
// that a given application path exists and is runnable on this host.
func IsAppInstalled(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if runtime.GOOS == "darwin" && info.IsDir() && strings.HasSuffix(path, ".app") {
		return true
	}
	return !info.IsDir()
}

// OpenPath implements open_path(path): delegate to the host OS's default
// application handler.
func OpenPath(path string) error {
	return dispatch(path, nil)
}

// RunInstaller implements run_installer(path): launch the installer with
// the OS's default handler, identical mechanism to OpenPath (the
// distinction is purely the caller's intent, per spec.md §4.7).
func RunInstaller(path string) error {
	return dispatch(path, nil)
}

func dispatch(path string, extraArgs []string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		args := append([]string{"/c", "start", ""}, path)
		args = append(args, extraArgs...)
		cmd = exec.Command("cmd", args...)
	case "darwin":
		cmd = exec.Command("open", append([]string{path}, extraArgs...)...)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
