package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// CloudsFileName is the name of the credentials file holding named clouds.
const CloudsFileName = "clouds.yaml"

// ErrCloudNotFound is returned when a named cloud is missing from the file.
var ErrCloudNotFound = errors.New("cloud not found")

// CloudProfile is one named entry of a clouds file:
//
//	clouds:
//	  ci-logs:
//	    backend: minio
//	    region_name: eu-west-1
//	    auth:
//	      auth_url: https://objects.example.com
//	      username: uploader
//	      password: secret
type CloudProfile struct {
	Backend        string    `mapstructure:"backend"`
	Region         string    `mapstructure:"region_name"`
	ForcePathStyle bool      `mapstructure:"force_path_style"`
	Auth           CloudAuth `mapstructure:"auth"`
}

// CloudAuth holds the endpoint and credentials of a cloud.
type CloudAuth struct {
	AuthURL  string `mapstructure:"auth_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DefaultCloudsFiles returns the locations searched for a clouds file, in
// priority order.
func DefaultCloudsFiles() []string {
	candidates := make([]string, 0, 2)

	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "uploadoor", CloudsFileName))
	}

	return append(candidates, filepath.Join("/etc", "uploadoor", CloudsFileName))
}

// FindCloudsFile returns the first existing file among candidates.
func FindCloudsFile(candidates ...string) (string, error) {
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no %s found (searched %v)", CloudsFileName, candidates)
}

// LoadCloud reads the named cloud from the clouds file at path.
func LoadCloud(path, name string) (*CloudProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clouds file: %w", err)
	}

	var raw struct {
		Clouds map[string]map[string]any `yaml:"clouds"`
	}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing clouds file: %w", err)
	}

	entry, ok := raw.Clouds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrCloudNotFound, name, path)
	}

	var profile CloudProfile

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &profile,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(entry); err != nil {
		return nil, fmt.Errorf("decoding cloud %q: %w", name, err)
	}

	return &profile, nil
}

// ApplyCloud copies the cloud's endpoint and credentials onto the storage
// settings of c. A non-empty password overrides the one from the file; it
// is kept in memory only.
func (c *Config) ApplyCloud(p *CloudProfile, password string) {
	if p.Backend != "" {
		c.Storage.Backend = p.Backend
	}

	secret := p.Auth.Password
	if password != "" {
		secret = password
	}

	switch c.Storage.Backend {
	case BackendMinio:
		if p.Auth.AuthURL != "" {
			c.Storage.Minio.Endpoint = p.Auth.AuthURL
		}

		if p.Region != "" {
			c.Storage.Minio.Region = p.Region
		}

		c.Storage.Minio.AccessKeyID = p.Auth.Username
		c.Storage.Minio.SecretAccessKey = secret
	default:
		if p.Auth.AuthURL != "" {
			c.Storage.S3.EndpointURL = p.Auth.AuthURL
		}

		if p.Region != "" {
			c.Storage.S3.Region = p.Region
		}

		if p.ForcePathStyle {
			c.Storage.S3.ForcePathStyle = true
		}

		c.Storage.S3.AccessKeyID = p.Auth.Username
		c.Storage.S3.SecretAccessKey = secret
	}
}
