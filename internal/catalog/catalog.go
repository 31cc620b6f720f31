// Package catalog holds the supported Windows images and resolves image
// URLs from an OS selector and a boot mode.
package catalog

import (
	"fmt"
	"sort"

	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/models"
)

// Categories of OS entries.
const (
	CategoryServer  = "server"
	CategoryDesktop = "desktop"
)

// Entry describes one installable Windows image.
type Entry struct {
	Code     string // selector, e.g. "ws2022"
	Name     string // display name
	Category string // "server" or "desktop"
	Image    string // image file stem in the URL namespaces
}

// entries holds all supported images keyed by selector.
var entries = map[string]Entry{
	"ws2012r2": {"ws2012r2", "Windows Server 2012 R2", CategoryServer, "windows2012r2"},
	"ws2016":   {"ws2016", "Windows Server 2016", CategoryServer, "windows2016"},
	"ws2019":   {"ws2019", "Windows Server 2019", CategoryServer, "windows2019"},
	"ws2022":   {"ws2022", "Windows Server 2022", CategoryServer, "windows2022"},
	"ws2025":   {"ws2025", "Windows Server 2025", CategoryServer, "windows2025"},
	"w10pro":   {"w10pro", "Windows 10 Pro", CategoryDesktop, "windows10"},
	"w10atlas": {"w10atlas", "Windows 10 Atlas", CategoryDesktop, "windows10atlas"},
	"w11pro":   {"w11pro", "Windows 11 Pro", CategoryDesktop, "windows11"},
	"w11atlas": {"w11atlas", "Windows 11 Atlas", CategoryDesktop, "windows11atlas"},
}

// Lookup returns the entry for a selector.
func Lookup(code string) (Entry, bool) {
	e, ok := entries[code]
	return e, ok
}

// Valid reports whether code is a supported OS selector.
func Valid(code string) bool {
	_, ok := entries[code]
	return ok
}

// List returns all entries sorted by code.
func List() []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Codes returns all selectors sorted.
func Codes() []string {
	codes := make([]string, 0, len(entries))
	for c := range entries {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ImageURL resolves the image URL for an OS selector and boot mode. UEFI
// and legacy images live in separate URL namespaces; anything that is not
// uefi resolves to the legacy namespace.
func ImageURL(imgCfg config.ImagesConfig, code, bootMode string) (string, error) {
	e, ok := entries[code]
	if !ok {
		return "", fmt.Errorf("catalog: unknown os selector %q", code)
	}
	base := imgCfg.LegacyBaseURL
	if bootMode == models.BootModeUEFI {
		base = imgCfg.UEFIBaseURL
	}
	return base + e.Image + ".gz", nil
}
