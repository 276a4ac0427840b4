package layout

import (
	"fmt"
	"mime"
	"path"
	"runtime"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Platform selects the filesystem naming rules paths are sanitized against.
type Platform string

const (
	PlatformPosix   Platform = "posix"
	PlatformWindows Platform = "windows"
)

const maxComponentBytes = 255

// ResolvePlatform maps a config value to a concrete platform. "auto" and
// the empty string pick by the build target.
func ResolvePlatform(mode string) (Platform, error) {
	mode = strings.TrimSpace(strings.ToLower(mode))
	switch mode {
	case "", "auto":
		if runtime.GOOS == "windows" {
			return PlatformWindows, nil
		}
		return PlatformPosix, nil
	case "posix":
		return PlatformPosix, nil
	case "windows":
		return PlatformWindows, nil
	}
	return "", fmt.Errorf("layout: invalid platform mode %q: expected auto, posix, or windows", mode)
}

// sanitizeComponent rewrites a single path component so it is legal on the
// target platform. Forbidden runes become '-'. Returns "" when nothing
// printable survives; the caller substitutes a placeholder.
func sanitizeComponent(s string, platform Platform) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	kept := false
	for _, r := range s {
		if isForbiddenRune(r, platform) {
			b.WriteRune('-')
			continue
		}
		if !unicode.IsSpace(r) {
			kept = true
		}
		b.WriteRune(r)
	}
	// A name made entirely of substitutes carries no content.
	if !kept {
		return ""
	}
	out := strings.TrimSpace(b.String())
	if platform == PlatformWindows {
		out = strings.TrimRight(out, ". ")
	}
	out = strings.Trim(out, "/")
	if out == "." || out == ".." {
		out = ""
	}
	if platform == PlatformWindows && isWindowsReservedName(out) {
		out = out + "-file"
	}
	return out
}

func isForbiddenRune(r rune, platform Platform) bool {
	if r == 0 || r == '/' || unicode.IsControl(r) {
		return true
	}
	if platform != PlatformWindows {
		return false
	}
	switch r {
	case '<', '>', ':', '"', '\\', '|', '?', '*':
		return true
	default:
		return false
	}
}

func isWindowsReservedName(name string) bool {
	if name == "" {
		return false
	}
	upper := strings.ToUpper(strings.TrimSpace(name))
	if idx := strings.IndexRune(upper, '.'); idx >= 0 {
		upper = upper[:idx]
	}
	switch upper {
	case "CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9":
		return true
	default:
		return false
	}
}

// collisionKey folds a component for duplicate detection. Windows
// filesystems are case-insensitive, so names collide case-insensitively.
func collisionKey(name string, platform Platform) string {
	if platform == PlatformWindows {
		return strings.ToLower(name)
	}
	return name
}

// fitStem trims stem at a rune boundary so stem+suffix+ext stays within the
// component byte limit. At least one rune of the stem always survives.
func fitStem(stem, suffix, ext string) string {
	budget := maxComponentBytes - len(suffix) - len(ext)
	if len(stem) <= budget {
		return stem
	}
	if budget < 1 {
		budget = 1
	}
	for budget > 0 && !utf8.RuneStart(stem[budget]) {
		budget--
	}
	if budget == 0 {
		_, size := utf8.DecodeRuneInString(stem)
		budget = size
	}
	return stem[:budget]
}

// splitExt splits a filename into stem and extension so collision suffixes
// can be inserted before the extension.
func splitExt(filename string) (stem, ext string) {
	ext = path.Ext(filename)
	if ext == filename {
		// dotfile such as ".gitignore": treat the whole name as stem
		return filename, ""
	}
	return strings.TrimSuffix(filename, ext), ext
}

// extensionForMIME returns a file extension for a MIME hint, preferring
// conventional spellings over the platform mime table's first entry.
func extensionForMIME(mimeType string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		return ""
	}

	preferred := map[string]string{
		"image/jpeg":       ".jpg",
		"image/png":        ".png",
		"image/gif":        ".gif",
		"image/webp":       ".webp",
		"image/svg+xml":    ".svg",
		"image/x-icon":     ".ico",
		"application/pdf":  ".pdf",
		"application/json": ".json",
		"text/plain":       ".txt",
		"text/markdown":    ".md",
	}
	if ext, ok := preferred[mimeType]; ok {
		return ext
	}

	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	sort.Strings(exts)
	return exts[0]
}
