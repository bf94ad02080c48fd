// Package version carries the build version and the update check.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Version is the current release, overridable at build time with -ldflags.
var Version = "0.1.0"

const latestReleaseURL = "https://api.github.com/repos/a-marczewski/ragline/releases/latest"

// CheckForUpdates asks GitHub for the newest release tag. It returns the
// newer version string, or "" when this build is current or no release
// exists yet.
func CheckForUpdates(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, latestReleaseURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "ragline/"+Version)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("github api returned status %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	if newerThan(latest, Version) {
		return latest, nil
	}
	return "", nil
}

// newerThan reports whether candidate is a strictly newer dotted version
// than current. Non-numeric fields compare as zero.
func newerThan(candidate, current string) bool {
	if candidate == "" {
		return false
	}

	a := strings.Split(candidate, ".")
	b := strings.Split(current, ".")
	for i := 0; i < len(a) || i < len(b); i++ {
		if field(a, i) != field(b, i) {
			return field(a, i) > field(b, i)
		}
	}
	return false
}

func field(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, _ := strconv.Atoi(parts[i])
	return n
}
