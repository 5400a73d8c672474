package config

const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"

	RaceModeRace    = "race"
	RaceModePrerace = "prerace"
)

const (
	defaultStateDir              = "~/.local/share/waypoint"
	defaultLogDir                = "~/.local/state/waypoint/logs"
	defaultAPIBind               = "127.0.0.1:7487"
	defaultMinFreeMB             = 64
	defaultServerBaseURL         = "http://localhost:3000/api"
	defaultServerTimeoutSeconds  = 30
	defaultSyncIntervalSeconds   = 30
	defaultBacklogAlertThreshold = 200
	defaultReachTimeoutSeconds   = 5
	defaultNotifyRequestTimeout  = 10
	defaultArchiveBucket         = "waypoint-archive"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 14
	sessionFileName              = "session.json"
	checkpointNameFileName       = "checkpoint_name"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Queue: Queue{
			Backend:   BackendSQLite,
			MinFreeMB: defaultMinFreeMB,
		},
		Server: Server{
			BaseURL:        defaultServerBaseURL,
			TimeoutSeconds: defaultServerTimeoutSeconds,
			RaceMode:       RaceModeRace,
		},
		Sync: Sync{
			IntervalSeconds:       defaultSyncIntervalSeconds,
			TriggerOnEnqueue:      true,
			BacklogAlertThreshold: defaultBacklogAlertThreshold,
		},
		Connectivity: Connectivity{
			ReachTimeoutSeconds: defaultReachTimeoutSeconds,
			WatchNetlink:        true,
		},
		Notifications: Notifications{
			RequestTimeout:  defaultNotifyRequestTimeout,
			RecordsRejected: true,
			QueueBacklog:    true,
			SyncRecovered:   true,
		},
		Archive: Archive{
			Bucket: defaultArchiveBucket,
			UseSSL: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
