package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/transport"
)

// Profile is one named connection in the config file.
type Profile struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	// Password is a plaintext password; PasswordAge an age-armored one
	// decrypted with the --identity file. PasswordAge wins when both are
	// set.
	Password    string `yaml:"password"`
	PasswordAge string `yaml:"password_age"`
	KeyPath     string `yaml:"key_path"`
	KnownHosts  string `yaml:"known_hosts"`
	TLS         bool   `yaml:"tls"`
	Insecure    bool   `yaml:"insecure"`
	// Timeout is a time.ParseDuration string like "45s".
	Timeout string `yaml:"timeout"`
}

type configFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// envOverrides are settings read from PSSESSION_* variables, applied
// between the profile and the flags. Field names map to the variable
// names, so Host reads PSSESSION_HOST. Explicit envconfig tags would
// add unprefixed fallbacks, and a bare USER or HOST from the shell
// must not leak in.
type envOverrides struct {
	Host     string
	Port     int
	User     string
	Password string
	Key      string
	Insecure bool
	TLS      bool
	Timeout  time.Duration
}

// settings is the fully resolved connection target.
type settings struct {
	Address    string
	Port       int
	User       string
	Password   string
	KeyPath    string
	KnownHosts string
	TLS        bool
	Insecure   bool
	Timeout    time.Duration
}

// resolveSettings layers profile, environment, and changed flags, in that
// order. A .env file in the working directory is loaded first so it can
// feed the environment layer.
func resolveSettings(cmd *cobra.Command) (*settings, error) {
	_ = godotenv.Load()

	s := &settings{}

	if flagProfile != "" {
		path := flagConfig
		if path == "" {
			path = defaultConfigPath()
		}
		p, err := loadProfile(path, flagProfile)
		if err != nil {
			return nil, err
		}
		if err := s.applyProfile(p, flagIdentity); err != nil {
			return nil, err
		}
	}

	var env envOverrides
	if err := envconfig.Process("PSSESSION", &env); err != nil {
		return nil, fmt.Errorf("read PSSESSION environment: %w", err)
	}
	s.applyEnv(&env)

	s.applyFlags(cmd.Root().PersistentFlags())
	return s, nil
}

func (s *settings) applyProfile(p *Profile, identityPath string) error {
	s.Address = p.Address
	s.Port = p.Port
	s.User = p.User
	s.Password = p.Password
	s.KeyPath = p.KeyPath
	s.KnownHosts = p.KnownHosts
	s.TLS = p.TLS
	s.Insecure = p.Insecure
	if p.Timeout != "" {
		timeout, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return fmt.Errorf("profile timeout %q: %w", p.Timeout, err)
		}
		s.Timeout = timeout
	}
	if p.PasswordAge != "" {
		password, err := decryptPassword(p.PasswordAge, identityPath)
		if err != nil {
			return err
		}
		s.Password = password
	}
	return nil
}

func (s *settings) applyEnv(env *envOverrides) {
	if env.Host != "" {
		s.Address = env.Host
	}
	if env.Port != 0 {
		s.Port = env.Port
	}
	if env.User != "" {
		s.User = env.User
	}
	if env.Password != "" {
		s.Password = env.Password
	}
	if env.Key != "" {
		s.KeyPath = env.Key
	}
	if env.Insecure {
		s.Insecure = true
	}
	if env.TLS {
		s.TLS = true
	}
	if env.Timeout != 0 {
		s.Timeout = env.Timeout
	}
}

// applyFlags copies explicitly set flags over everything else.
func (s *settings) applyFlags(pf *pflag.FlagSet) {
	if pf.Changed("host") {
		s.Address, _ = pf.GetString("host")
	}
	if pf.Changed("port") {
		s.Port, _ = pf.GetInt("port")
	}
	if pf.Changed("user") {
		s.User, _ = pf.GetString("user")
	}
	if pf.Changed("key") {
		s.KeyPath, _ = pf.GetString("key")
	}
	if pf.Changed("insecure") {
		s.Insecure, _ = pf.GetBool("insecure")
	}
	if pf.Changed("tls") {
		s.TLS, _ = pf.GetBool("tls")
	}
	if pf.Changed("timeout") {
		s.Timeout, _ = pf.GetDuration("timeout")
	}
}

// connectionInfo converts the resolved settings into a transport target.
func (s *settings) connectionInfo() (*transport.ConnectionInfo, error) {
	info := &transport.ConnectionInfo{
		Address:        s.Address,
		Port:           s.Port,
		KeyPath:        s.KeyPath,
		KnownHostsPath: s.KnownHosts,
		UseTLS:         s.TLS,
		SkipVerify:     s.Insecure,
		ConnectTimeout: s.Timeout,
	}
	if s.User != "" {
		secure, err := objects.NewSecureString(s.Password)
		if err != nil {
			return nil, fmt.Errorf("seal password: %w", err)
		}
		info.Credential = objects.NewCredential(s.User, secure)
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

func loadProfile(path, name string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	p, ok := cfg.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found in %s", name, path)
	}
	return &p, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pssession.yml"
	}
	return filepath.Join(home, ".pssession.yml")
}

// decryptPassword opens an age-armored ciphertext with the identities in
// identityPath.
func decryptPassword(armored, identityPath string) (string, error) {
	if identityPath == "" {
		return "", errors.New("profile password is age-encrypted, pass --identity")
	}
	f, err := os.Open(identityPath)
	if err != nil {
		return "", fmt.Errorf("open identity: %w", err)
	}
	defer f.Close()
	identities, err := age.ParseIdentities(f)
	if err != nil {
		return "", fmt.Errorf("parse identity %s: %w", identityPath, err)
	}

	r, err := age.Decrypt(armor.NewReader(strings.NewReader(armored)), identities...)
	if err != nil {
		return "", fmt.Errorf("decrypt profile password: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decrypt profile password: %w", err)
	}
	return strings.TrimRight(string(plaintext), "\n"), nil
}
