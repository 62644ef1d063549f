// Package version reports build metadata. The string vars are set with
// -ldflags "-X"; anything left empty is filled from the Go build info.
package version

import "runtime/debug"

const AppName = "permit-api"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildID    string
	VCSDirty   *bool
)

type Info struct {
	App        string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	base := Info{
		App:        AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildID:    BuildID,
		VCSDirty:   VCSDirty,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return base
	}
	return merge(base, bi)
}

// merge fills unset fields from bi; ldflags values always win except
// CommitDate, which only the VCS stamp knows.
func merge(out Info, bi *debug.BuildInfo) Info {
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
			out.CommitDate = s.Value
		case "vcs.modified":
			if out.VCSDirty != nil {
				continue
			}
			switch s.Value {
			case "true", "false":
				dirty := s.Value == "true"
				out.VCSDirty = &dirty
			}
		}
	}
	return out
}
