package application

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"
)

// artifactTimestampLayout is a sortable compact UTC timestamp.
const artifactTimestampLayout = "20060102T150405Z"

// RunArtifacts holds the data-dir-relative paths a run may write. Relative
// paths always use forward slashes so they are stable in the database.
type RunArtifacts struct {
	State           string
	Screenshot      string
	ErrorScreenshot string
}

// ArtifactPaths derives the artifact paths for a run of accountID started at.
func ArtifactPaths(accountID int64, at time.Time) RunArtifacts {
	id := strconv.FormatInt(accountID, 10)
	ts := at.UTC().Format(artifactTimestampLayout)
	return RunArtifacts{
		State:           path.Join("state", id, "state.json"),
		Screenshot:      path.Join("screenshots", id, ts+".png"),
		ErrorScreenshot: path.Join("screenshots", id, ts+".error.png"),
	}
}

// Abs resolves a relative artifact path under dataDir.
func Abs(dataDir, rel string) string {
	return filepath.Join(dataDir, filepath.FromSlash(rel))
}

// reconcile blanks every path whose file does not exist. The error
// screenshot is kept only for failed runs.
func (a RunArtifacts) reconcile(dataDir string, ok bool) RunArtifacts {
	out := RunArtifacts{}
	if existsUnder(dataDir, a.State) {
		out.State = a.State
	}
	if existsUnder(dataDir, a.Screenshot) {
		out.Screenshot = a.Screenshot
	}
	if !ok && existsUnder(dataDir, a.ErrorScreenshot) {
		out.ErrorScreenshot = a.ErrorScreenshot
	}
	return out
}

func existsUnder(dataDir, rel string) bool {
	if rel == "" {
		return false
	}
	info, err := os.Stat(Abs(dataDir, rel))
	return err == nil && !info.IsDir()
}
