package domainfx

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yurykabanov/srvbackup/pkg/domain"
	"github.com/yurykabanov/srvbackup/pkg/pattern"
	"github.com/yurykabanov/srvbackup/pkg/upload"
)

func viperFrom(t *testing.T, yaml string) *viper.Viper {
	t.Helper()

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))

	return v
}

func noopUploaders(targets []upload.Config) (upload.Uploader, error) {
	return upload.Noop{}, nil
}

func TestLoadJobs(t *testing.T) {
	v := viperFrom(t, `
jobs:
  - name: world
    root: /srv/minecraft
    output: /srv/minecraft/backups
    include: ["world/**", "server.properties"]
    max_size: 10GB
    cron_spec: "0 */6 * * *"
    timeout: 30m
    run_on_start: true
    uploads:
      - type: sftp
        host: backup.example.com
        username: mc
        authentication: /etc/srvbackup/id_ed25519
        host_key_file: /etc/srvbackup/backup.example.com.pub
  - name: plugins
    root: /srv/minecraft/plugins
    output: /var/backups/plugins
    exclude: []
    max_size: 500 MiB
`)

	var seen [][]upload.Config
	factory := func(targets []upload.Config) (upload.Uploader, error) {
		seen = append(seen, targets)
		return upload.Noop{}, nil
	}

	jobs, err := LoadJobs(v, factory)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	world := jobs[0]
	assert.Equal(t, "world", world.Name)
	assert.Equal(t, int64(10*1000*1000*1000), world.MaxSize)
	assert.Equal(t, "0 */6 * * *", world.CronSpec)
	assert.Equal(t, 30*time.Minute, world.Timeout)
	assert.True(t, world.RunOnStart)
	assert.Len(t, world.Includes, 2)
	assert.True(t, world.Excludes.MatchAny("world_nether/session.lock"))
	assert.Equal(t, upload.Noop{}, world.Uploader)

	plugins := jobs[1]
	assert.Equal(t, int64(500*1024*1024), plugins.MaxSize)
	require.Len(t, plugins.Includes, 1)
	assert.True(t, plugins.Includes[0].Everything())
	assert.Empty(t, plugins.Excludes)

	require.Len(t, seen, 2)
	require.Len(t, seen[0], 1)
	assert.Equal(t, upload.TypeSFTP, seen[0][0].Type)
	assert.Equal(t, "backup.example.com", seen[0][0].Host)
	assert.Empty(t, seen[1])
}

func TestLoadJobs_Invalid(t *testing.T) {
	cases := map[string]string{
		"no name": `
jobs:
  - root: /srv
    output: /backups
    max_size: 1GB`,
		"duplicate": `
jobs:
  - {name: a, root: /srv, output: /backups, max_size: 1GB}
  - {name: a, root: /srv, output: /backups, max_size: 1GB}`,
		"relative root": `
jobs:
  - {name: a, root: srv, output: /backups, max_size: 1GB}`,
		"relative output": `
jobs:
  - {name: a, root: /srv, output: backups, max_size: 1GB}`,
		"bad size": `
jobs:
  - {name: a, root: /srv, output: /backups, max_size: lots}`,
		"zero size": `
jobs:
  - {name: a, root: /srv, output: /backups, max_size: "0"}`,
		"bad exclude": `
jobs:
  - {name: a, root: /srv, output: /backups, max_size: 1GB, exclude: ["[abc"]}`,
	}

	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadJobs(viperFrom(t, yaml), noopUploaders)
			assert.Error(t, err)
		})
	}
}

func TestLoadJobs_InvalidPatternIsConfigurationError(t *testing.T) {
	v := viperFrom(t, `
jobs:
  - {name: a, root: /srv, output: /backups, max_size: 1GB, include: ["{a,b"]}`)

	_, err := LoadJobs(v, noopUploaders)

	var configErr *pattern.ConfigurationError
	assert.True(t, errors.As(err, &configErr))
}

func TestLoadJobs_UploadFailure(t *testing.T) {
	v := viperFrom(t, `
jobs:
  - {name: a, root: /srv, output: /backups, max_size: 1GB}`)

	_, err := LoadJobs(v, func([]upload.Config) (upload.Uploader, error) {
		return nil, errors.New("unknown upload type")
	})

	assert.Error(t, err)
}

func TestLoadJobs_OutputIsRoot(t *testing.T) {
	v := viperFrom(t, `
jobs:
  - {name: a, root: /srv/minecraft, output: /srv/minecraft/, max_size: 1GB}`)

	_, err := LoadJobs(v, noopUploaders)

	var configErr *domain.ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "a", configErr.Job)
	assert.True(t, errors.Is(err, domain.ErrOutputIsRoot))
}
