package vicapdb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the vicapactivity table: one row
// per run of the capture server.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// SessionMessage is the information required to make an entry in the
// sessions table.
type SessionMessage struct {
	ID           string
	Channel      string
	Frames       uint64
	Errors       uint64
	MeanInterval float64
	StdInterval  float64
	Start        time.Time
	End          time.Time
}

// RecoveryMessage is the information required to make an entry in the
// recoveries table.
type RecoveryMessage struct {
	ID      string
	Channel string
	State   string
	Time    time.Time
}
