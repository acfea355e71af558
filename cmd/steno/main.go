// Command steno runs the fisheye rig pipeline: it steers virtual cameras
// onto active speakers and serves the composed view and audio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/integrii/flaggy"

	"github.com/teslashibe/go-steno/internal/config"
	"github.com/teslashibe/go-steno/internal/log"
	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/audio/playback"
	"github.com/teslashibe/go-steno/pkg/position"
	"github.com/teslashibe/go-steno/pkg/video/capture"
)

const (
	appName = "steno"
	appDesc = "panoramic camera director: virtual cameras that follow the speaker"
)

var version = "dev"

type flags struct {
	configPath string
	logLevel   string
	fps        int
	webPort    int
	camera     string
	model      string
	mock       bool
}

func main() {
	f := flags{logLevel: "info"}
	if listed := parseFlags(&f); listed {
		return
	}

	log.Init(f.logLevel)
	logger := log.L()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fatal("load config", err)
	}
	f.apply(cfg)
	if err := cfg.Derive(); err != nil {
		fatal("invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		fatal("pipeline failed", err)
	}
}

// parseFlags fills f and handles subcommands. It reports whether a
// subcommand ran and the program should exit.
func parseFlags(f *flags) bool {
	parser := flaggy.NewParser(appName)
	parser.Description = appDesc
	parser.Version = version

	listBackends := flaggy.Subcommand{
		Name:        "list-backends",
		ShortName:   "lb",
		Description: "list audio and position backends, camera presets and playback devices",
	}
	parser.AttachSubcommand(&listBackends, 1)

	parser.String(&f.configPath, "c", "config", "YAML configuration file")
	parser.String(&f.logLevel, "l", "log-level", "log level (debug, info, warn, error)")
	parser.Int(&f.fps, "f", "fps", "output frame rate")
	parser.Int(&f.webPort, "p", "web-port", "preview server port")
	parser.String(&f.camera, "cam", "camera", "camera index, file or stream URL")
	parser.String(&f.model, "m", "model", "detector ONNX model path")
	parser.Bool(&f.mock, "mock", "mock", "use synthetic camera, detector, positions and audio")

	if err := parser.Parse(); err != nil {
		fatal("parse arguments", err)
	}

	if listBackends.Used {
		printBackends()
		return true
	}
	return false
}

// apply overrides the loaded configuration with flags that were set.
func (f flags) apply(cfg *config.Config) {
	if f.fps > 0 {
		cfg.Video.FPS = f.fps
	}
	if f.webPort > 0 {
		cfg.Web.Port = f.webPort
	}
	if f.camera != "" {
		cfg.Camera.Device = f.camera
	}
	if f.model != "" {
		cfg.Detection.ModelPath = f.model
	}
	if f.mock {
		cfg.Mock = true
	}
}

func printBackends() {
	fmt.Println("audio sources:")
	for _, b := range audio.AvailableBackends() {
		fmt.Printf("- %s\n", b)
	}
	fmt.Println("position sources:")
	for _, b := range position.AvailableBackends() {
		fmt.Printf("- %s\n", b)
	}
	fmt.Println("camera presets:")
	for _, p := range capture.PresetNames() {
		fmt.Printf("- %s\n", p)
	}
	fmt.Println("playback devices:")
	devices, err := playback.Devices()
	if err != nil {
		fmt.Printf("  unavailable: %v\n", err)
		return
	}
	for _, d := range devices {
		fmt.Printf("- %s\n", d)
	}
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %s: %v\n", appName, what, err)
	os.Exit(1)
}
