// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata linked into the binary with -ldflags:
//
//	go build -ldflags "-X pcmframe/pkg/build.buildName=pcmframe \
//	  -X pcmframe/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds run without them and report "unknown" fields.
package build

import (
	"errors"
	"fmt"
)

// Info is the build metadata reported by the version command.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

const (
	defaultName        = "pcmframe"
	defaultDescription = "Reference-counted PCM audio frames: capture, decode, analyse and stream"
	unknown            = "unknown"
)

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = defaultInfo()
)

func defaultInfo() *Info {
	return &Info{
		Name:        defaultName,
		Description: defaultDescription,
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
	}
}

// Initialize copies the linked values into the Info returned by
// GetBuildFlags. Every missing value is reported in the joined error; the
// values that are present are applied regardless.
func Initialize() error {
	var errs []error
	set := func(dst *string, val, flag string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag))
			return
		}
		*dst = val
	}

	set(&buildInfo.Name, buildName, "BuildName")
	set(&buildInfo.Time, buildTime, "BuildTime")
	set(&buildInfo.Commit, buildCommit, "BuildCommit")
	set(&buildInfo.Version, buildVersion, "BuildVersion")

	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildInfo
}
