package proxy

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path"
	"runtime"
	"strings"
)

var ErrBinaryNotFound = errors.New("tor browser binary not found")

var windowsDrives = []string{"C:", "D:", "E:"}

// Candidates lists the install locations checked for the Tor Browser
// executable on goos, most likely first.
func Candidates(goos, home, username string) []string {
	switch goos {
	case "windows":
		locations := []string{
			`\Users\` + username + `\Desktop\Tor Browser\Browser\firefox.exe`,
			`\Program Files\Tor Browser\Browser\firefox.exe`,
			`\Program Files (x86)\Tor Browser\Browser\firefox.exe`,
		}
		var out []string
		for _, drive := range windowsDrives {
			for _, loc := range locations {
				out = append(out, drive+loc)
			}
		}
		return out
	case "darwin":
		return []string{"/Applications/Tor Browser.app/Contents/MacOS/firefox"}
	default:
		return []string{
			"/usr/bin/tor-browser",
			path.Join(home, ".local/share/torbrowser/tbb/x86_64/tor-browser/Browser/firefox"),
		}
	}
}

// FindBinary returns override when it exists, otherwise the first existing
// platform candidate.
func FindBinary(override string) (string, error) {
	home, _ := os.UserHomeDir()
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
		if i := strings.LastIndex(username, `\`); i >= 0 {
			username = username[i+1:]
		}
	}
	return findIn(override, Candidates(runtime.GOOS, home, username), fileExists)
}

func findIn(override string, candidates []string, exists func(string) bool) (string, error) {
	if override != "" {
		if exists(override) {
			return override, nil
		}
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, override)
	}

	for _, candidate := range candidates {
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: checked %d locations", ErrBinaryNotFound, len(candidates))
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
