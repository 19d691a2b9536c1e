package domainfx

import (
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/yurykabanov/srvbackup/internal/uploadfx"
	"github.com/yurykabanov/srvbackup/pkg/domain"
	"github.com/yurykabanov/srvbackup/pkg/pattern"
	"github.com/yurykabanov/srvbackup/pkg/upload"
)

const (
	ConfigJobs = "jobs"

	defaultInclude = "."
)

type jobConfig struct {
	Name       string          `mapstructure:"name"`
	Root       string          `mapstructure:"root"`
	Output     string          `mapstructure:"output"`
	Include    []string        `mapstructure:"include"`
	Exclude    []string        `mapstructure:"exclude"`
	MaxSize    string          `mapstructure:"max_size"`
	CronSpec   string          `mapstructure:"cron_spec"`
	Timeout    time.Duration   `mapstructure:"timeout"`
	RunOnStart bool            `mapstructure:"run_on_start"`
	Uploads    []upload.Config `mapstructure:"uploads"`
}

// LoadJobs decodes and validates every configured job. Invalid patterns,
// relative directories or a missing budget fail the whole configuration.
func LoadJobs(v *viper.Viper, uploaders uploadfx.UploaderFactory) ([]domain.Job, error) {
	var configs []jobConfig

	err := v.UnmarshalKey(ConfigJobs, &configs)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal jobs")
	}

	jobs := make([]domain.Job, 0, len(configs))
	names := make(map[string]struct{}, len(configs))

	for i, config := range configs {
		if config.Name == "" {
			return nil, errors.Errorf("Job #%d has no name", i)
		}

		if _, ok := names[config.Name]; ok {
			return nil, errors.Errorf("Job %q is defined twice", config.Name)
		}
		names[config.Name] = struct{}{}

		job, err := buildJob(config, uploaders)
		if err != nil {
			return nil, errors.Wrapf(err, "Invalid job %q", config.Name)
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func buildJob(config jobConfig, uploaders uploadfx.UploaderFactory) (domain.Job, error) {
	job := domain.Job{
		Name:       config.Name,
		Root:       filepath.Clean(config.Root),
		Output:     filepath.Clean(config.Output),
		CronSpec:   config.CronSpec,
		Timeout:    config.Timeout,
		RunOnStart: config.RunOnStart,
	}

	if !filepath.IsAbs(config.Root) {
		return job, errors.Errorf("root %q must be an absolute path", config.Root)
	}

	if !filepath.IsAbs(config.Output) {
		return job, errors.Errorf("output %q must be an absolute path", config.Output)
	}

	if err := job.Validate(); err != nil {
		return job, err
	}

	maxSize, err := humanize.ParseBytes(config.MaxSize)
	if err != nil {
		return job, errors.Wrapf(err, "Unable to parse max_size %q", config.MaxSize)
	}
	if maxSize == 0 {
		return job, errors.New("max_size must be positive")
	}
	job.MaxSize = int64(maxSize)

	include := config.Include
	if len(include) == 0 {
		include = []string{defaultInclude}
	}

	exclude := config.Exclude
	if exclude == nil {
		exclude = domain.DefaultExcludes
	}

	job.Includes, err = pattern.CompileAll(include)
	if err != nil {
		return job, err
	}

	job.Excludes, err = pattern.CompileAll(exclude)
	if err != nil {
		return job, err
	}

	job.Uploader, err = uploaders(config.Uploads)
	if err != nil {
		return job, err
	}

	return job, nil
}
