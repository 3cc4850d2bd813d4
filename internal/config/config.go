package config

type Config struct {
	ConfigVersion int              `yaml:"configVersion"`
	Server        ServerConfig     `yaml:"server"`
	Contracts     []ContractSource `yaml:"contracts"`
	Validation    ValidationConfig `yaml:"validation"`
	Logging       LoggingConfig    `yaml:"logging"`
	Metrics       MetricsConfig    `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type ServerConfig struct {
	Listen string     `yaml:"listen"`
	CORS   CORSConfig `yaml:"cors"`
	TLS    TLSConfig  `yaml:"tls"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// ContractSource names one contract document. Format is prism, openapi or
// empty to detect from the content.
type ContractSource struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

type ValidationConfig struct {
	Request      *bool `yaml:"request"`
	Response     bool  `yaml:"response"`
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	DecisionLog string `yaml:"decisionLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	FormatPrism   = "prism"
	FormatOpenAPI = "openapi"
)

// RequestValidation reports whether request bodies are validated. It is on
// unless the file turns it off explicitly.
func (v ValidationConfig) RequestValidation() bool {
	return v.Request == nil || *v.Request
}

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}
