package config

import "time"

// Default values applied by Load for fields left empty in the file.
const (
	DefaultDatabaseDriver     = "sqlite"
	DefaultDatabasePath       = "data/lecturescribe.db"
	DefaultUploadDir          = "uploads"
	DefaultDataDir            = "data"
	DefaultCategory           = "Unorganized"
	DefaultMaxUploadBytes     = 512 << 20
	DefaultErrorRetryInterval = 5 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultTranscriberCommand = "whisper"
	DefaultTranscriberModel   = "medium"
	DefaultNotesEndpoint      = "http://localhost:11434/api/generate"
	DefaultNotesModel         = "gpt-oss:20b"
	DefaultNotesTemperature   = 0.2
	DefaultNotesTopP          = 0.9
	DefaultRabbitExchange     = "transcription.wake"
)

// ApplyDefaults fills zero-valued settings.
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.Driver == DefaultDatabaseDriver && c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}

	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.RabbitMQ.Exchange.Name == "" {
		c.RabbitMQ.Exchange.Name = DefaultRabbitExchange
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "fanout"
	}

	if c.Worker.UploadDir == "" {
		c.Worker.UploadDir = DefaultUploadDir
	}
	if c.Worker.DataDir == "" {
		c.Worker.DataDir = DefaultDataDir
	}
	if c.Worker.DefaultCategory == "" {
		c.Worker.DefaultCategory = DefaultCategory
	}
	if c.Worker.StalePolicy == "" {
		c.Worker.StalePolicy = StalePolicyRequeue
	}
	if c.Worker.ErrorRetryInterval == 0 {
		c.Worker.ErrorRetryInterval = DefaultErrorRetryInterval
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Transcriber.Command == "" {
		c.Transcriber.Command = DefaultTranscriberCommand
	}
	if c.Transcriber.Model == "" {
		c.Transcriber.Model = DefaultTranscriberModel
	}

	if c.Notes.Endpoint == "" {
		c.Notes.Endpoint = DefaultNotesEndpoint
	}
	if c.Notes.Model == "" {
		c.Notes.Model = DefaultNotesModel
	}
	if c.Notes.Temperature == 0 {
		c.Notes.Temperature = DefaultNotesTemperature
	}
	if c.Notes.TopP == 0 {
		c.Notes.TopP = DefaultNotesTopP
	}
}
