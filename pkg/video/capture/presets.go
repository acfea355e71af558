package capture

import (
	"fmt"
	"sort"
)

// Preset names for common rig setups.
const (
	PresetDefault = "default"
	Preset2K      = "2k"
	Preset3K      = "3k"
	PresetNight   = "night"
	PresetBright  = "bright"
)

// Presets returns every preset keyed by name.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: withSize(1440, 30),
		Preset2K:      withSize(2048, 30),
		Preset3K:      withSize(2880, 15),
		PresetNight:   nightConfig(),
		PresetBright:  brightConfig(),
	}
}

// PresetNames returns the preset names in order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets()))
	for name := range Presets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset returns cfg with the preset's capture settings. The device
// and read policy of cfg are kept.
func ApplyPreset(cfg Config, name string) (Config, error) {
	p, ok := Presets()[name]
	if !ok {
		return cfg, fmt.Errorf("unknown camera preset %q", name)
	}
	p.Device = cfg.Device
	p.MaxMisses = cfg.MaxMisses
	return p, nil
}

// withSize is a square fisheye sensor mode.
func withSize(side int, fps float64) Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height, cfg.FPS = side, side, fps
	return cfg
}

// nightConfig trades frame rate for exposure in dim rooms.
func nightConfig() Config {
	cfg := withSize(1440, 15)
	cfg.Gain = 8
	cfg.Brightness = 0.6
	return cfg
}

// brightConfig holds highlights back under window light.
func brightConfig() Config {
	cfg := withSize(1440, 30)
	cfg.Exposure = -6
	return cfg
}
