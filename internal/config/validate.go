package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			v.Add("server.tls.certFile required when tls.enabled is true")
		} else if err := requireFile(c.resolvePath(c.Server.TLS.CertFile)); err != nil {
			v.Add("server.tls.certFile invalid: %v", err)
		}
		if c.Server.TLS.KeyFile == "" {
			v.Add("server.tls.keyFile required when tls.enabled is true")
		} else if err := requireFile(c.resolvePath(c.Server.TLS.KeyFile)); err != nil {
			v.Add("server.tls.keyFile invalid: %v", err)
		}
	}

	for i, origin := range c.Server.CORS.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			v.Add("server.cors.allowedOrigins[%d] is empty", i)
		}
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		} else if c.Metrics.Listen == c.Server.Listen {
			v.Add("metrics.listen must differ from server.listen")
		}
	}

	if len(c.Contracts) == 0 {
		v.Add("contracts requires at least one entry")
	}
	seen := map[string]struct{}{}
	for i, source := range c.Contracts {
		if source.Path == "" {
			v.Add("contracts[%d].path is required", i)
			continue
		}
		resolved := c.resolvePath(source.Path)
		if _, exists := seen[resolved]; exists {
			v.Add("contracts[%d].path %q is duplicated", i, source.Path)
		}
		seen[resolved] = struct{}{}
		if err := requireFile(resolved); err != nil {
			v.Add("contracts[%d].path invalid: %v", i, err)
		}

		switch source.Format {
		case "", FormatPrism, FormatOpenAPI:
		default:
			v.Add("contracts[%d].format must be prism|openapi", i)
		}
	}

	if c.Validation.MaxBodyBytes < 0 {
		v.Add("validation.maxBodyBytes must be >= 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.Add("logging.level must be debug|info|warn|error")
	}
	if c.Logging.DecisionLog != "" {
		if err := ensureWritable(c.resolvePath(c.Logging.DecisionLog)); err != nil {
			v.Add("logging.decisionLog invalid: %v", err)
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// ensureWritable checks the directory that will hold path. A missing
// directory is fine as long as its parent exists, since the decision log
// creates one level on open.
func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		info, err = os.Stat(filepath.Dir(dir))
		if err == nil && info.IsDir() {
			return nil
		}
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	file, err := os.CreateTemp(dir, "prism-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
