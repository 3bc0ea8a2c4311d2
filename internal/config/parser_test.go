package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	yaml := `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
	d := cfg.Devices[0]
	assert.Equal(t, "nas", d.Name)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", d.MAC.String())
	assert.Equal(t, "eth0", d.Interface)
	assert.Nil(t, d.VLAN)
	assert.Empty(t, d.BroadcastIP)
	assert.Empty(t, d.Dependencies)
	assert.Empty(t, d.Checks)
	assert.Nil(t, cfg.Telegram)
	assert.Nil(t, cfg.History)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
devices:
  - name: switch
    mac: "00:11:22:33:44:55"
    interface: eth0
    check:
      - type: port
        ip: 10.0.0.2
        port: 22
        retry: 2s
        timeout: 1m

  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    vlan: 100
    depends: [switch]
    check:
      - type: http
        url: "http://10.0.0.10:5000/status"
        status: 200
        regex: "ok|ready"
        retry: 5s
        timeout: 3m
        attempt_timeout: 2s
      - type: shell
        command: "showmount -e 10.0.0.10"
        status: 0
        ssh:
          host: 10.0.0.10
          port: 2222
          username: admin
          key_path: /keys/id_ed25519

  - name: app
    mac: "AA:BB:CC:DD:EE:00"
    interface: eth1
    broadcast_ip: 10.0.1.255
    wol_port: 7
    depends: [nas, switch]

telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123"

history:
  path: /var/lib/gowake/history.sqlite
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	require.Len(t, cfg.Devices, 3)

	sw := cfg.Devices[0]
	require.Len(t, sw.Checks, 1)
	assert.Equal(t, models.CheckPort, sw.Checks[0].Kind)
	assert.Equal(t, "10.0.0.2", sw.Checks[0].Port.IP.String())
	assert.Equal(t, 22, sw.Checks[0].Port.Port)
	assert.Equal(t, 2*time.Second, sw.Checks[0].Retry)
	assert.Equal(t, time.Minute, sw.Checks[0].Timeout)
	assert.Equal(t, DefaultAttemptTimeout, sw.Checks[0].AttemptTimeout)

	nas := cfg.Devices[1]
	require.NotNil(t, nas.VLAN)
	assert.Equal(t, uint16(100), *nas.VLAN)
	assert.Equal(t, []string{"switch"}, nas.Dependencies)
	require.Len(t, nas.Checks, 2)

	httpCheck := nas.Checks[0]
	assert.Equal(t, models.CheckHTTP, httpCheck.Kind)
	assert.Equal(t, "http://10.0.0.10:5000/status", httpCheck.HTTP.URL)
	require.NotNil(t, httpCheck.HTTP.ExpectedStatus)
	assert.Equal(t, 200, *httpCheck.HTTP.ExpectedStatus)
	require.NotNil(t, httpCheck.HTTP.Pattern)
	assert.True(t, httpCheck.HTTP.Pattern.MatchString("system ready"))
	assert.Equal(t, 2*time.Second, httpCheck.AttemptTimeout)

	shellCheck := nas.Checks[1]
	assert.Equal(t, models.CheckShell, shellCheck.Kind)
	assert.Equal(t, "showmount -e 10.0.0.10", shellCheck.Shell.Command)
	require.NotNil(t, shellCheck.Shell.ExpectedExit)
	assert.Equal(t, 0, *shellCheck.Shell.ExpectedExit)
	require.NotNil(t, shellCheck.Shell.SSH)
	assert.Equal(t, "10.0.0.10", shellCheck.Shell.SSH.Host)
	assert.Equal(t, 2222, shellCheck.Shell.SSH.Port)
	assert.Equal(t, "admin", shellCheck.Shell.SSH.Username)
	assert.Equal(t, "/keys/id_ed25519", shellCheck.Shell.SSH.KeyPath)
	assert.Equal(t, DefaultRetry, shellCheck.Retry)
	assert.Equal(t, DefaultTimeout, shellCheck.Timeout)

	app := cfg.Devices[2]
	assert.Equal(t, "eth1", app.Interface)
	assert.Equal(t, "10.0.1.255", app.BroadcastIP)
	assert.Equal(t, 7, app.WOLPort)
	assert.Equal(t, []string{"nas", "switch"}, app.Dependencies)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)
	assert.Equal(t, "-100123", cfg.Telegram.ChatID)

	require.NotNil(t, cfg.History)
	assert.Equal(t, "/var/lib/gowake/history.sqlite", cfg.History.Path)

	g, err := Validate(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"switch", "nas", "app"}, g.WakeOrder())
}

func TestParser_CheckDefaults(t *testing.T) {
	yaml := `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: port
        ip: 10.0.0.2
        port: 22
      - type: port
        ip: 10.0.0.2
        port: 22
        retry: 1s
        timeout: 4s
`
	cfg, err := NewParser().LoadReader(yaml)

	require.NoError(t, err)
	checks := cfg.Devices[0].Checks
	assert.Equal(t, DefaultRetry, checks[0].Retry)
	assert.Equal(t, DefaultTimeout, checks[0].Timeout)
	assert.Equal(t, DefaultAttemptTimeout, checks[0].AttemptTimeout)
	// attempt timeout never exceeds the check timeout
	assert.Equal(t, 4*time.Second, checks[1].AttemptTimeout)
}

func TestParser_BroadcastDefaultPort(t *testing.T) {
	yaml := `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    broadcast_ip: 192.168.1.255
`
	cfg, err := NewParser().LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, DefaultWOLPort, cfg.Devices[0].WOLPort)
}

func TestParser_EnvExpansion(t *testing.T) {
	t.Setenv("GOWAKE_TEST_HOST", "10.0.0.10")
	t.Setenv("GOWAKE_TEST_TOKEN", "secret-token")
	t.Setenv("GOWAKE_TEST_KEY", "/keys/id_rsa")

	yaml := `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: http
        url: "http://${GOWAKE_TEST_HOST}:5000"
        status: 200
      - type: shell
        command: "ping -c1 $GOWAKE_TEST_HOST"
        status: 0
        ssh:
          host: jump
          key_path: ${GOWAKE_TEST_KEY}

telegram:
  bot_token: ${GOWAKE_TEST_TOKEN}
  chat_id: "123"
`
	cfg, err := NewParser().LoadReader(yaml)

	require.NoError(t, err)
	checks := cfg.Devices[0].Checks
	assert.Equal(t, "http://10.0.0.10:5000", checks[0].HTTP.URL)
	assert.Equal(t, "ping -c1 10.0.0.10", checks[1].Shell.Command)
	assert.Equal(t, "/keys/id_rsa", checks[1].Shell.SSH.KeyPath)
	assert.Equal(t, 22, checks[1].Shell.SSH.Port)
	assert.Equal(t, "root", checks[1].Shell.SSH.Username)
	assert.Equal(t, "secret-token", cfg.Telegram.BotToken)
}

func TestParser_HistoryDefaultPath(t *testing.T) {
	yaml := `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
history:
  path: ""
`
	cfg, err := NewParser().LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.History)
	assert.Equal(t, DefaultHistoryPath, cfg.History.Path)
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no devices",
			yaml:    "telegram:\n  bot_token: x\n  chat_id: y\n",
			wantErr: "devices is required",
		},
		{
			name: "missing mac",
			yaml: `
devices:
  - name: nas
    interface: eth0
`,
			wantErr: "mac is required",
		},
		{
			name: "invalid mac",
			yaml: `
devices:
  - name: nas
    mac: "not-a-mac"
    interface: eth0
`,
			wantErr: "invalid mac",
		},
		{
			name: "vlan out of range",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    vlan: 4095
`,
			wantErr: "vlan must be between 0 and 4094",
		},
		{
			name: "invalid broadcast ip",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    broadcast_ip: 300.1.1.1
`,
			wantErr: "invalid broadcast_ip",
		},
		{
			name: "unknown check type",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: ping
`,
			wantErr: "type must be one of: http, port, shell",
		},
		{
			name: "missing check type",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - url: http://x
`,
			wantErr: "type is required",
		},
		{
			name: "invalid regex",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: http
        url: http://10.0.0.1
        regex: "(unclosed"
`,
			wantErr: "invalid regex",
		},
		{
			name: "url scheme",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: http
        url: ftp://10.0.0.1
        status: 200
`,
			wantErr: "must use http or https",
		},
		{
			name: "invalid port check ip",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: port
        ip: nas.local
        port: 22
`,
			wantErr: "invalid ip",
		},
		{
			name: "ssh without key",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: shell
        command: "true"
        status: 0
        ssh:
          host: 10.0.0.1
`,
			wantErr: "ssh.key_path is required",
		},
		{
			name: "telegram without chat",
			yaml: `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
telegram:
  bot_token: abc
`,
			wantErr: "telegram.chat_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().LoadReader(tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParser_ErrorNamesDevice(t *testing.T) {
	yaml := `
devices:
  - name: router
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
  - name: nas
    mac: "bogus"
    interface: eth0
`
	_, err := NewParser().LoadReader(yaml)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "devices[1] (nas)")
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
devices:
  - name: nas
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewParser().LoadFile(path)

	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 1)
}

func TestParser_LoadFile_NotFound(t *testing.T) {
	_, err := NewParser().LoadFile("/nonexistent/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := Validate(nil)
		assert.Error(t, err)
	})

	t.Run("no devices", func(t *testing.T) {
		_, err := Validate(&models.Config{})
		assert.Error(t, err)
	})

	t.Run("cycle", func(t *testing.T) {
		yaml := `
devices:
  - name: a
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    depends: [b]
  - name: b
    mac: "AA:BB:CC:DD:EE:00"
    interface: eth0
    depends: [a]
`
		cfg, err := NewParser().LoadReader(yaml)
		require.NoError(t, err)

		_, err = Validate(cfg)
		assert.ErrorIs(t, err, models.ErrCyclicDependency)
	})

	t.Run("incomplete check", func(t *testing.T) {
		yaml := `
devices:
  - name: a
    mac: "AA:BB:CC:DD:EE:FF"
    interface: eth0
    check:
      - type: http
        url: http://10.0.0.1
`
		cfg, err := NewParser().LoadReader(yaml)
		require.NoError(t, err)

		_, err = Validate(cfg)
		assert.ErrorIs(t, err, models.ErrIncompleteCheck)
	})
}
