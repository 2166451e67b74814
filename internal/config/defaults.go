package config

const (
	defaultPhotoDir           = "~/.local/share/catalogiq/photos"
	defaultLogDir             = "~/.local/share/catalogiq/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultVisionBaseURL      = "https://api.openai.com/v1/chat/completions"
	defaultVisionTimeout      = 60
	defaultWordPressTimeout   = 30
	defaultFeedPollInterval   = 2
	defaultErrorRetryInterval = 10
	defaultStepTimeout        = 300
	defaultDispatchWorkers    = 4
	defaultQueueSize          = 64
	defaultRetryMax           = 3
	defaultRetryBaseSeconds   = 2
	defaultRetryMaxSeconds    = 60
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			PhotoDir: defaultPhotoDir,
			LogDir:   defaultLogDir,
		},
		Vision: Vision{
			BaseURL:        defaultVisionBaseURL,
			TimeoutSeconds: defaultVisionTimeout,
		},
		WordPress: WordPress{
			TimeoutSeconds: defaultWordPressTimeout,
		},
		Workflow: Workflow{
			FeedPollInterval:   defaultFeedPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StepTimeout:        defaultStepTimeout,
			DispatchWorkers:    defaultDispatchWorkers,
			QueueSize:          defaultQueueSize,
			RetryMax:           defaultRetryMax,
			RetryBaseSeconds:   defaultRetryBaseSeconds,
			RetryMaxSeconds:    defaultRetryMaxSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Published:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
