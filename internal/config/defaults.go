package config

import "runtime"

// Default TOML config values. Load starts from these and lets the file
// override them.
func Default() *Config {
	return &Config{
		Compare:          "size",
		HashFailFallback: "none",
		RenamesA:         "none",
		RenamesB:         "none",
		ReuseHashesA:     true,
		ReuseHashesB:     true,
		ConflictMode:     "newer",
		TagConflict:      false,
		DT:               1.1,
		ActionThreads:    runtime.NumCPU(),
		Backup:           true,
		AlwaysGetMtime:   false,
		AvoidRelist:      false,
		SyncBackups:      false,
		SaveLogs:         false,
		RcloneExe:        "rclone",
	}
}
