package config

const (
	defaultStagingDir           = "~/.local/share/clarion/staging"
	defaultArtifactsDir         = "~/.local/share/clarion/artifacts"
	defaultLogDir               = "~/.local/share/clarion/logs"
	defaultAPIBind              = "127.0.0.1:8632"
	defaultMaxUploadMB          = 100
	defaultWorkers              = 4
	defaultQueueDepth           = 32
	defaultJobTimeoutSeconds    = 600
	defaultJobTTLHours          = 24
	defaultSweepSeconds         = 60
	defaultRetryMaxAttempts     = 3
	defaultRetryBaseDelayMS     = 500
	defaultRetryMaxDelayMS      = 10_000
	defaultArtifactTTLHours     = 48
	defaultGraceCompletedMinute = 30
	defaultCacheCapacity        = 256
	defaultCacheTTLHours        = 48
	defaultEnhancerCommand      = "ffmpeg"
	defaultEnhancerTimeout      = 300
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

func defaultAllowedFormats() []string {
	return []string{".wav", ".mp3", ".flac", ".m4a", ".aac", ".ogg"}
}

func defaultEnhancerArgs() []string {
	return []string{"-y", "-i", "{input}", "-af", "afftdn=nf=-25", "{output}"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:   defaultStagingDir,
			ArtifactsDir: defaultArtifactsDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Intake: Intake{
			MaxUploadMB:    defaultMaxUploadMB,
			AllowedFormats: defaultAllowedFormats(),
		},
		Pipeline: Pipeline{
			Workers:           defaultWorkers,
			QueueDepth:        defaultQueueDepth,
			JobTimeoutSeconds: defaultJobTimeoutSeconds,
			JobTTLHours:       defaultJobTTLHours,
			SweepSeconds:      defaultSweepSeconds,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelayMS: defaultRetryBaseDelayMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
		},
		Artifacts: Artifacts{
			TTLHours:             defaultArtifactTTLHours,
			GraceCompletedMinute: defaultGraceCompletedMinute,
		},
		Cache: Cache{
			Capacity: defaultCacheCapacity,
			TTLHours: defaultCacheTTLHours,
		},
		Enhancer: Enhancer{
			Command:        defaultEnhancerCommand,
			Args:           defaultEnhancerArgs(),
			TimeoutSeconds: defaultEnhancerTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
