// Package version reports the installed game server build and whether a newer
// one is known.
package version

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	Unknown = "unknown"

	InstalledFile = "last_version.txt"
	LatestFile    = ".latest_version"
)

// Info compares the installed build with the latest one seen by the
// downloader.
type Info struct {
	Current         string `json:"current_version"`
	Latest          string `json:"latest_version"`
	UpdateAvailable bool   `json:"update_available"`
	Error           string `json:"error,omitempty"`
}

// Installed reads the installed version from dir. A missing file yields
// Unknown without error.
func Installed(dir string) (string, error) {
	return readVersion(filepath.Join(dir, InstalledFile))
}

// Latest reads the version cached by the last downloader run.
func Latest(dir string) (string, error) {
	return readVersion(filepath.Join(dir, LatestFile))
}

func readVersion(path string) (string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return Unknown, nil
	}
	if err != nil {
		return Unknown, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return Unknown, nil
	}
	return v, nil
}

// Check builds Info from the files in dir.
func Check(dir string) Info {
	var errs []string
	cur, err := Installed(dir)
	if err != nil {
		errs = append(errs, "could not read current version: "+err.Error())
	}
	latest, err := Latest(dir)
	if err != nil {
		errs = append(errs, "could not read latest version: "+err.Error())
	}
	info := Info{Current: cur, Latest: latest, Error: strings.Join(errs, "; ")}
	if cur != Unknown && latest != Unknown {
		info.UpdateAvailable = Compare(latest, cur) > 0
	}
	return info
}

// Compare orders dotted versions such as "2026.01.24-6e2d4fc36". Numeric
// segments compare as numbers, others as text; a missing segment sorts first.
// It returns -1, 0 or 1.
func Compare(a, b string) int {
	as, bs := segments(a), segments(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		switch {
		case i >= len(as):
			return -1
		case i >= len(bs):
			return 1
		}
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return 0
}

func segments(v string) []string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	return strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == '-' || r == '+' })
}

func compareSegment(a, b string) int {
	an, aerr := strconv.ParseUint(a, 10, 64)
	bn, berr := strconv.ParseUint(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aerr == nil:
		return 1
	case berr == nil:
		return -1
	}
	return strings.Compare(a, b)
}
