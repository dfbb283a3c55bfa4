package config

// MailConfig contains SMTP delivery configuration for reminders and
// reports.
type MailConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"1025"`
	Username string `env:"USERNAME" envDefault:""`
	Password string `env:"PASSWORD" envDefault:""`
	From     string `env:"FROM"     envDefault:"noreply@housecall.local"`
}

// ExportConfig contains CSV export configuration.
type ExportConfig struct {
	// Dir is the directory export files are written to.
	Dir string `env:"EXPORT_DIR" envDefault:"exports"`
}
