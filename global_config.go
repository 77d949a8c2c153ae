package vicap

import (
	"log"
	"os"
	"time"
)

// Portnumbers lists the TCP ports the publisher binds: status carries
// state and recovery updates, frames carries per-frame metadata at the
// capture rate.
type Portnumbers struct {
	Status int
	Frames int
}

// Ports holds the publisher port assignments, laid out consecutively
// from a single base.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.Status = base
	Ports.Frames = base + 1
}

// BuildInfo carries version and build provenance, stamped into the
// binary by the Makefile.
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build describes this build of vicap.
var Build = BuildInfo{
	Version: "0.3.1",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is when this process started.
var StartTime time.Time

// ProblemLogger logs warnings and hardware faults.
var ProblemLogger *log.Logger

// UpdateLogger logs client updates and state changes.
var UpdateLogger *log.Logger

func init() {
	setPortnumbers(5600)
	StartTime = time.Now()

	// cmd/vicap redirects these to rotating files; give library users
	// stderr in the meantime
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
