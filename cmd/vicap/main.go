package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	sysctl "github.com/lorenzosaino/go-sysctl"
	"github.com/spf13/viper"
	"github.com/visys/vicap"
	"github.com/visys/vicap/internal/vicapdb"
	"github.com/visys/vicap/internal/vihw"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("PGMode", false)
	viper.SetDefault("TPGPattern", 1)
	viper.SetDefault("RecoverOnLinkError", false)
	viper.SetDefault("TimeoutMS", 200)
	viper.SetDefault("Width", 1280)
	viper.SetDefault("Height", 720)
	viper.SetDefault("Format", "RAW10")
	viper.SetDefault("Lanes", 2)
	viper.SetDefault("Ports", []int{0})
	viper.SetDefault("Record", false)
	viper.SetDefault("DumpPath", "")

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotVicap := filepath.Join(home, ".vicap")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotVicap, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/vicap"))
	viper.AddConfigPath(dotVicap)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// checkSocketBuffers warns when the kernel's socket buffer ceilings are
// too small for the frame-metadata publisher under subscriber bursts.
func checkSocketBuffers() {
	const want = 1 << 20
	for _, key := range []string{"net.core.rmem_max", "net.core.wmem_max"} {
		val, err := sysctl.Get(key)
		if err != nil {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(val, "%d", &n); err == nil && n < want {
			fmt.Printf("Warning: %s = %d, publishers may stall; consider raising it to %d\n",
				key, n, want)
		}
	}
}

// openDevice opens the first video-input device, or a simulated one when
// no hardware is present and the test pattern generator is the source.
func openDevice(pgMode bool) (vihw.Device, vihw.Syncpointer, error) {
	devs, err := vihw.EnumerateDevices()
	if err == nil && len(devs) > 0 {
		dev, err := vihw.OpenUIODevice(devs[0])
		if err != nil {
			return nil, nil, err
		}
		return dev, vihw.NewUIOSyncpoints(dev), nil
	}
	if !pgMode {
		return nil, nil, fmt.Errorf("no video-input device found and PGMode is off")
	}
	sim := vihw.NewSimDevice(true)
	return sim, sim, nil
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	vicap.Build.Date = buildDate
	vicap.Build.Githash = githash

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is vicap version %s\n", vicap.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is vicap version %s (git commit %s)\n", vicap.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(home, ".vicap", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	vicap.ProblemLogger = startLogger(problemname)
	vicap.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	vicap.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}
	checkSocketBuffers()

	if err := run(); err != nil {
		log.Fatal(err)
	}
	writeMemoryProfile(memprofile)
}

func run() error {
	var cfg vicap.CaptureConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %s", err)
	}

	dev, sp, err := openDevice(cfg.PGMode)
	if err != nil {
		return err
	}

	vi := vicap.NewVI(dev, sp, vicap.VIConfig{
		PGMode:     cfg.PGMode,
		TPGPattern: cfg.TPGPattern,
		Verbose:    cfg.Verbose,
	})
	defer vi.Close()

	vi.SetPublisher(vicap.NewPublisher(vicap.Ports.Status, vicap.Ports.Frames))

	abortDB := make(chan struct{})
	defer close(abortDB)
	var db *vicapdb.Connection
	if cfg.Record {
		hostname, _ := os.Hostname()
		db = vicapdb.StartConnection(&vicapdb.ActivityMessage{
			ID:        vicapdb.NewID(),
			Hostname:  hostname,
			Githash:   vicap.Build.Githash,
			Version:   vicap.Build.Version,
			GoVersion: runtime.Version(),
			Start:     vicap.StartTime,
		}, abortDB)
	} else {
		db = vicapdb.DummyConnection()
	}
	vi.SetRecorder(dbRecorder{db})

	format := cfg.Format
	width := cfg.Width
	height := cfg.Height
	fmtinfo, err := vicap.FormatByName(format)
	if err != nil {
		return err
	}
	sizeImage := width * uint32(fmtinfo.BytesPerPixel) * height

	// retired buffers go straight back into the capture queue; the first
	// good frame is optionally written out for offline inspection
	var chanl *vicap.Channel
	dumped := cfg.DumpPath == ""
	requeue := func(buf *vicap.Buffer) {
		vicap.UpdateLogger.Printf("frame %d state %s", buf.Sequence, buf.State)
		if !dumped && buf.State == vicap.BufferDone {
			dumped = true
			if err := vicap.DumpFrame(cfg.DumpPath, chanl.ActiveFormat(), buf); err != nil {
				vicap.ProblemLogger.Printf("frame dump to %s failed: %v", cfg.DumpPath, err)
			} else {
				fmt.Printf("Dumped frame %d to %s\n", buf.Sequence, cfg.DumpPath)
			}
		}
		if chanl.Streaming() {
			chanl.EnqueueBuffer(buf)
		}
	}

	chanl, err = vi.NewChannel(vicap.ChannelConfig{
		Name:               "vi-output-0",
		Ports:              cfg.Ports,
		Lanes:              cfg.Lanes,
		Format:             format,
		Width:              width,
		Height:             height,
		Timeout:            time.Duration(cfg.TimeoutMS) * time.Millisecond,
		RecoverOnLinkError: cfg.RecoverOnLinkError,
		OnBufferDone:       requeue,
	})
	if err != nil {
		return err
	}

	stride := (uint64(sizeImage) + 4095) &^ 4095
	for i := 0; i < 4; i++ {
		chanl.EnqueueBuffer(&vicap.Buffer{
			Addr:    uint64(i) * stride,
			Surface: make([]byte, sizeImage),
		})
	}

	if err := chanl.StartStreaming(); err != nil {
		return err
	}
	fmt.Printf("Streaming %dx%d %s on ports %v\n", width, height, format, cfg.Ports)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	fmt.Println("\nStopping")
	return chanl.StopStreaming()
}

// dbRecorder adapts the database connection to the engine's Recorder.
type dbRecorder struct {
	db *vicapdb.Connection
}

func (r dbRecorder) RecordSession(s vicap.SessionRecord) error {
	r.db.RecordSession(&vicapdb.SessionMessage{
		ID:           vicapdb.NewID(),
		Channel:      s.Channel,
		Frames:       s.Frames,
		Errors:       s.Errors,
		MeanInterval: s.MeanInterval,
		StdInterval:  s.StdInterval,
		Start:        s.Start,
		End:          s.End,
	})
	return nil
}

func (r dbRecorder) RecordRecovery(rec vicap.RecoveryRecord) error {
	r.db.RecordRecovery(&vicapdb.RecoveryMessage{
		ID:      vicapdb.NewID(),
		Channel: rec.Channel,
		State:   rec.State,
		Time:    time.Now(),
	})
	return nil
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
