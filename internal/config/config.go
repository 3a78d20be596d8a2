// Package config loads the engine's structured configuration from flags,
// environment variables, and an optional TOML/YAML file via
// github.com/spf13/viper + github.com/spf13/pflag. Grounded on the
// teacher's bare flag-based cmd/engine/main.go config.Parse(), generalized
// into the structured {server, music_library, audio_analysis,
// playlist_engine, mood_classifier, cache, export} key groups spec §9
// ("dynamic configuration maps") calls for, while keeping the teacher's
// environment-variable override convention (renamed CARTOMIX_* ->
// LOOMTRACK_*).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix matches the teacher's CARTOMIX_* convention, renamed for this
// module.
const envPrefix = "LOOMTRACK"

// recognizedKeys is the full set of keys this engine understands; any key
// present in a loaded config file that doesn't match one of these is
// rejected at load time (spec §9). The environment is consulted only for
// these keys, so other LOOMTRACK_* variables are ignored rather than
// rejected.
var recognizedKeys = []string{
	"server.port",
	"server.log_level",
	"server.admin_enabled",
	"server.admin_port",
	"server.admin_token",
	"music_library.data_dir",
	"music_library.db_path",
	"audio_analysis.sample_rate",
	"audio_analysis.window_seconds",
	"audio_analysis.max_file_size_mb",
	"audio_analysis.min_file_size_kb",
	"audio_analysis.max_depth",
	"audio_analysis.workers",
	"playlist_engine.default_preset",
	"mood_classifier.confidence_threshold",
	"mood_classifier.model_path",
	"cache.lru_size",
	"export.default_format",
}

// Config is the fully-resolved engine configuration.
type Config struct {
	Server struct {
		Port         int
		LogLevel     string
		AdminEnabled bool
		AdminPort    int
		AdminToken   string
	}
	MusicLibrary struct {
		DataDir string
		DBPath  string
	}
	AudioAnalysis struct {
		SampleRate     int
		WindowSeconds  float64
		MaxFileSizeMB  int
		MinFileSizeKB  int
		MaxDepth       int
		Workers        int
	}
	PlaylistEngine struct {
		DefaultPreset string
	}
	MoodClassifier struct {
		ConfidenceThreshold float64
		ModelPath           string
	}
	Cache struct {
		LRUSize int
	}
	Export struct {
		DefaultFormat string
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 50051)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.admin_enabled", false)
	v.SetDefault("server.admin_port", 50052)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("music_library.data_dir", "./data")
	v.SetDefault("music_library.db_path", "./data/library.db")
	v.SetDefault("audio_analysis.sample_rate", 44100)
	v.SetDefault("audio_analysis.window_seconds", 5.0)
	v.SetDefault("audio_analysis.max_file_size_mb", 500)
	v.SetDefault("audio_analysis.min_file_size_kb", 1)
	v.SetDefault("audio_analysis.max_depth", 10)
	v.SetDefault("audio_analysis.workers", 0) // 0 means min(NumCPU, 8)
	v.SetDefault("playlist_engine.default_preset", "hybrid_smart")
	v.SetDefault("mood_classifier.confidence_threshold", 0.5)
	v.SetDefault("mood_classifier.model_path", "")
	v.SetDefault("cache.lru_size", 4096)
	v.SetDefault("export.default_format", "m3u")
}

// Load reads configuration from flags in args, environment variables
// (LOOMTRACK_SERVER_PORT, etc.), and configFile if non-empty, in that
// precedence order (flags > env > file > defaults). It returns an error if
// configFile names a key outside recognizedKeys or if args contain an
// unknown flag; environment variables outside recognizedKeys are ignored.
func Load(args []string, configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	flags := pflag.NewFlagSet("engine", pflag.ContinueOnError)
	flags.Int("server.port", v.GetInt("server.port"), "gRPC listen port")
	flags.String("server.log_level", v.GetString("server.log_level"), "log level: debug|info|warn|error")
	flags.Bool("server.admin_enabled", v.GetBool("server.admin_enabled"), "enable the task admin gRPC surface")
	flags.Int("server.admin_port", v.GetInt("server.admin_port"), "admin gRPC listen port")
	flags.String("server.admin_token", v.GetString("server.admin_token"), "bearer token required by the admin surface")
	flags.String("music_library.data_dir", v.GetString("music_library.data_dir"), "root data directory")
	flags.String("music_library.db_path", v.GetString("music_library.db_path"), "sqlite database path")
	flags.Int("audio_analysis.sample_rate", v.GetInt("audio_analysis.sample_rate"), "PCM decode sample rate")
	flags.Float64("audio_analysis.window_seconds", v.GetFloat64("audio_analysis.window_seconds"), "time-series window size in seconds")
	flags.Int("audio_analysis.max_file_size_mb", v.GetInt("audio_analysis.max_file_size_mb"), "max analyzable file size in MiB")
	flags.Int("audio_analysis.min_file_size_kb", v.GetInt("audio_analysis.min_file_size_kb"), "min analyzable file size in KiB")
	flags.Int("audio_analysis.max_depth", v.GetInt("audio_analysis.max_depth"), "max directory walk depth")
	flags.Int("audio_analysis.workers", v.GetInt("audio_analysis.workers"), "analysis worker pool size (0 = min(NumCPU, 8))")
	flags.String("playlist_engine.default_preset", v.GetString("playlist_engine.default_preset"), "default playlist preset name")
	flags.Float64("mood_classifier.confidence_threshold", v.GetFloat64("mood_classifier.confidence_threshold"), "mood confidence gate")
	flags.String("mood_classifier.model_path", v.GetString("mood_classifier.model_path"), "optional trained mood model path")
	flags.Int("cache.lru_size", v.GetInt("cache.lru_size"), "in-process is_cached LRU size (read into Config only; the store's LRU has a fixed size of 4096)")
	flags.String("export.default_format", v.GetString("export.default_format"), "default export format")

	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if err := rejectUnrecognized(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.LogLevel = v.GetString("server.log_level")
	cfg.Server.AdminEnabled = v.GetBool("server.admin_enabled")
	cfg.Server.AdminPort = v.GetInt("server.admin_port")
	cfg.Server.AdminToken = v.GetString("server.admin_token")
	cfg.MusicLibrary.DataDir = v.GetString("music_library.data_dir")
	cfg.MusicLibrary.DBPath = v.GetString("music_library.db_path")
	cfg.AudioAnalysis.SampleRate = v.GetInt("audio_analysis.sample_rate")
	cfg.AudioAnalysis.WindowSeconds = v.GetFloat64("audio_analysis.window_seconds")
	cfg.AudioAnalysis.MaxFileSizeMB = v.GetInt("audio_analysis.max_file_size_mb")
	cfg.AudioAnalysis.MinFileSizeKB = v.GetInt("audio_analysis.min_file_size_kb")
	cfg.AudioAnalysis.MaxDepth = v.GetInt("audio_analysis.max_depth")
	cfg.AudioAnalysis.Workers = v.GetInt("audio_analysis.workers")
	cfg.PlaylistEngine.DefaultPreset = v.GetString("playlist_engine.default_preset")
	cfg.MoodClassifier.ConfidenceThreshold = v.GetFloat64("mood_classifier.confidence_threshold")
	cfg.MoodClassifier.ModelPath = v.GetString("mood_classifier.model_path")
	cfg.Cache.LRUSize = v.GetInt("cache.lru_size")
	cfg.Export.DefaultFormat = v.GetString("export.default_format")

	return cfg, nil
}

func rejectUnrecognized(v *viper.Viper) error {
	recognized := make(map[string]bool, len(recognizedKeys))
	for _, k := range recognizedKeys {
		recognized[k] = true
	}
	for _, key := range v.AllKeys() {
		if !recognized[key] {
			return fmt.Errorf("config: unrecognized key %q", key)
		}
	}
	return nil
}
