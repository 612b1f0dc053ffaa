package config

const (
	defaultConfigPath     = "~/.config/omzet/omzet.toml"
	defaultStateDir       = "~/.local/share/omzet"
	defaultLogDir         = "~/.local/share/omzet/logs"
	defaultWorkers        = 1
	defaultFingerprint    = FingerprintMTime
	defaultKillGrace      = 10
	defaultOrphanMaxAge   = 6 * 60 * 60
	defaultScanInterval   = 60
	defaultMinFreeMiB     = 1024
	defaultShell          = "sh"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultScratchpadRoot = "/tmp/omzet"
)

// Fingerprint modes.
const (
	FingerprintMTime  = "mtime"
	FingerprintSHA256 = "sha256"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Engine: Engine{
			Workers:      defaultWorkers,
			Fingerprint:  defaultFingerprint,
			KillGrace:    defaultKillGrace,
			OrphanMaxAge: defaultOrphanMaxAge,
			ScanInterval: defaultScanInterval,
			MinFreeMiB:   defaultMinFreeMiB,
			Shell:        defaultShell,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
