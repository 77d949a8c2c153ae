package vicap

// CaptureConfig is the server configuration as read from the config file
// by cmd/vicap. Field names match the config keys.
type CaptureConfig struct {
	Verbose            bool
	PGMode             bool
	TPGPattern         int
	RecoverOnLinkError bool
	TimeoutMS          int
	Width              uint32
	Height             uint32
	Format             string
	Lanes              int
	Ports              []int
	Record             bool
	DumpPath           string // when set, the first good frame is written here as NPY
}
