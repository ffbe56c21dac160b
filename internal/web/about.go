package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// About identifies the running binary and the board it drives.
type About struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	BuildTime string `json:"build_time,omitempty"`

	Mode    string `json:"mode,omitempty"`
	Device  string `json:"device,omitempty"`
	BoardID string `json:"board_id,omitempty"`
}

func buildAbout(status *Status, now time.Time) About {
	a := About{
		Service:   serviceName,
		NowUTC:    now.Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
	}
	if status != nil {
		a.Mode, a.Device, a.BoardID = status.static()
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return a
	}
	a.Module, a.Version = bi.Main.Path, bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			a.Commit = s.Value
		case "vcs.modified":
			a.Dirty = s.Value == "true"
		case "vcs.time":
			a.BuildTime = s.Value
		}
	}
	return a
}

func aboutHandler(status *Status) http.HandlerFunc {
	return getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, buildAbout(status, time.Now().UTC()))
	})
}
