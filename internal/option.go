package internal

// Option adjusts the application before one of the Run entry points
// starts it.
type Option func(*application)

// application carries the settings the Run entry points consume.
type application struct {
	config *Config
}

// WithConfig supplies the loaded configuration. Every entry point
// requires it.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
