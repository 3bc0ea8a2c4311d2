// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fgeck/gowake-homelab/internal/graph"
	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/spf13/viper"
)

// Check defaults.
const (
	DefaultRetry          = 10 * time.Second
	DefaultTimeout        = 5 * time.Minute
	DefaultAttemptTimeout = 10 * time.Second
	DefaultWOLPort        = 9
	DefaultHistoryPath    = "gowake-history.sqlite"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

type rawDevice struct {
	Name        string     `mapstructure:"name"`
	MAC         string     `mapstructure:"mac"`
	Interface   string     `mapstructure:"interface"`
	VLAN        *int       `mapstructure:"vlan"`
	BroadcastIP string     `mapstructure:"broadcast_ip"`
	WOLPort     int        `mapstructure:"wol_port"`
	Depends     []string   `mapstructure:"depends"`
	Checks      []rawCheck `mapstructure:"check"`
}

type rawCheck struct {
	Type           string        `mapstructure:"type"`
	Retry          time.Duration `mapstructure:"retry"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	URL     string  `mapstructure:"url"`
	Status  *int    `mapstructure:"status"`
	Regex   string  `mapstructure:"regex"`
	IP      string  `mapstructure:"ip"`
	Port    int     `mapstructure:"port"`
	Command string  `mapstructure:"command"`
	SSH     *rawSSH `mapstructure:"ssh"`
}

type rawSSH struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	KeyPath  string `mapstructure:"key_path"`
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	var devices []rawDevice
	if err := p.v.UnmarshalKey("devices", &devices); err != nil {
		return nil, fmt.Errorf("decoding devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("devices is required")
	}

	for i, raw := range devices {
		device, err := p.parseDevice(raw)
		if err != nil {
			return nil, fmt.Errorf("devices[%d] (%s): %w", i, raw.Name, err)
		}
		cfg.Devices = append(cfg.Devices, device)
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	// Parse optional history config.
	if p.v.IsSet("history") {
		cfg.History = &models.HistoryConfig{
			Path: p.expandEnv(p.v.GetString("history.path")),
		}
		if cfg.History.Path == "" {
			cfg.History.Path = DefaultHistoryPath
		}
	}

	return cfg, nil
}

func (p *Parser) parseDevice(raw rawDevice) (models.DeviceSpec, error) {
	device := models.DeviceSpec{
		Name:         raw.Name,
		Interface:    raw.Interface,
		Dependencies: raw.Depends,
	}

	if raw.MAC == "" {
		return device, fmt.Errorf("mac is required")
	}
	mac, err := net.ParseMAC(raw.MAC)
	if err != nil {
		return device, fmt.Errorf("invalid mac %q: %w", raw.MAC, err)
	}
	device.MAC = mac

	if raw.VLAN != nil {
		if *raw.VLAN < 0 || *raw.VLAN > 4094 {
			return device, fmt.Errorf("vlan must be between 0 and 4094, got %d", *raw.VLAN)
		}
		vlan := uint16(*raw.VLAN)
		device.VLAN = &vlan
	}

	if raw.BroadcastIP != "" {
		if net.ParseIP(raw.BroadcastIP) == nil {
			return device, fmt.Errorf("invalid broadcast_ip %q", raw.BroadcastIP)
		}
		device.BroadcastIP = raw.BroadcastIP
		device.WOLPort = raw.WOLPort
		if device.WOLPort == 0 {
			device.WOLPort = DefaultWOLPort
		}
	}

	for i, rc := range raw.Checks {
		check, err := p.parseCheck(rc)
		if err != nil {
			return device, fmt.Errorf("check[%d]: %w", i, err)
		}
		device.Checks = append(device.Checks, check)
	}

	return device, nil
}

//nolint:gocyclo // one branch per check kind
func (p *Parser) parseCheck(raw rawCheck) (models.HealthCheckSpec, error) {
	check := models.HealthCheckSpec{
		Kind:           models.CheckKind(strings.ToLower(raw.Type)),
		Retry:          raw.Retry,
		Timeout:        raw.Timeout,
		AttemptTimeout: raw.AttemptTimeout,
	}

	// Set defaults.
	if check.Retry == 0 {
		check.Retry = DefaultRetry
	}
	if check.Timeout == 0 {
		check.Timeout = DefaultTimeout
	}
	if check.AttemptTimeout == 0 {
		check.AttemptTimeout = min(DefaultAttemptTimeout, check.Timeout)
	}

	pattern, err := compile(raw.Regex)
	if err != nil {
		return check, err
	}

	switch check.Kind {
	case models.CheckHTTP:
		target := p.expandEnv(raw.URL)
		if target != "" {
			u, err := url.Parse(target)
			if err != nil {
				return check, fmt.Errorf("invalid url %q: %w", target, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return check, fmt.Errorf("url %q must use http or https", target)
			}
		}
		check.HTTP = &models.HTTPCheck{
			URL:            target,
			ExpectedStatus: raw.Status,
			Pattern:        pattern,
		}

	case models.CheckPort:
		var ip net.IP
		if raw.IP != "" {
			if ip = net.ParseIP(raw.IP); ip == nil {
				return check, fmt.Errorf("invalid ip %q", raw.IP)
			}
		}
		check.Port = &models.PortCheck{IP: ip, Port: raw.Port}

	case models.CheckShell:
		check.Shell = &models.ShellCheck{
			Command:      p.expandEnv(raw.Command),
			ExpectedExit: raw.Status,
			Pattern:      pattern,
		}
		if raw.SSH != nil {
			target, err := p.parseSSH(*raw.SSH)
			if err != nil {
				return check, err
			}
			check.Shell.SSH = target
		}

	case "":
		return check, fmt.Errorf("type is required")

	default:
		return check, fmt.Errorf("type must be one of: http, port, shell (got %q)", raw.Type)
	}

	return check, nil
}

func (p *Parser) parseSSH(raw rawSSH) (*models.SSHTarget, error) {
	target := &models.SSHTarget{
		Host:     raw.Host,
		Port:     raw.Port,
		Username: raw.Username,
		KeyPath:  p.expandEnv(raw.KeyPath),
	}

	if target.Host == "" {
		return nil, fmt.Errorf("ssh.host is required when ssh is configured")
	}
	if target.Port == 0 {
		target.Port = 22
	}
	if target.Username == "" {
		target.Username = "root"
	}
	if target.KeyPath == "" {
		return nil, fmt.Errorf("ssh.key_path is required when ssh is configured")
	}

	return target, nil
}

func compile(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", expr, err)
	}
	return re, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs graph-level validation on the loaded configuration and
// returns the resulting dependency graph.
func Validate(cfg *models.Config) (*graph.Graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("devices is required")
	}

	return graph.Build(cfg.Devices)
}
