package git

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

// minGit is required by "stash push --staged" and porcelain v2 with -z.
const minGit = "v2.35.0"

func MinGitVersion() string { return strings.TrimPrefix(minGit, "v") }

// versionPattern finds the first dotted version in "git --version" or
// "git lfs version" output, ignoring vendor suffixes such as ".windows.1".
var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// parseVersion returns the canonical semver form, e.g. "v2.40.0".
func parseVersion(out string) (string, bool) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := "v" + m[1] + "." + m[2] + "." + patch
	return v, semver.IsValid(v)
}

func checkMinVersion(out string) error {
	got, ok := parseVersion(out)
	if !ok {
		return fmt.Errorf("unable to parse git version output: %q", strings.TrimSpace(out))
	}
	if semver.Compare(got, minGit) < 0 {
		return fmt.Errorf("git %s is too old; gitk-sync requires git >= %s", got[1:], MinGitVersion())
	}
	return nil
}

func probe(args ...string) func() (string, error) {
	return sync.OnceValues(func() (string, error) {
		raw, err := exec.Command("git", args...).CombinedOutput()
		out := strings.TrimSpace(string(raw))
		if err != nil {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out)
		}
		return out, nil
	})
}

var (
	// GitVersion returns the "git --version" output.
	GitVersion = probe("--version")
	// LFSVersion returns the "git lfs version" output.
	LFSVersion = probe("lfs", "version")

	ensureMinGitVersion = sync.OnceValue(func() error {
		out, err := GitVersion()
		if err != nil {
			return err
		}
		return checkMinVersion(out)
	})
)
