package tls

// Config enables HTTPS for the API server.
//
// Certificates come from CertFile/KeyFile when both are set, otherwise from
// Dir (tls.crt, tls.key), which AutoGenerate fills with a self-signed pair on
// first use.
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	CertFile     string  `mapstructure:"cert_file"`
	KeyFile      string  `mapstructure:"key_file"`
	Dir          string  `mapstructure:"dir"`
	AutoGenerate bool    `mapstructure:"auto_generate"`
	MinVersion   string  `mapstructure:"min_version"` // "1.2" or "1.3" (default)
	AutoGen      AutoGen `mapstructure:"auto_gen"`
}

// AutoGen tunes the self-signed certificate.
type AutoGen struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// Validate checks that an enabled config can locate a certificate.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errCertKeyPair
	}
	if c.CertFile == "" && c.Dir == "" {
		return errNoSource
	}
	if _, ok := parseTLSVersion(c.MinVersion); !ok && c.MinVersion != "" {
		return errBadVersion(c.MinVersion)
	}
	return nil
}
