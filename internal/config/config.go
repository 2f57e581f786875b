package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

const (
	DefaultPort                  = 1247
	DefaultMaxParallelThreads    = 4
	DefaultSingleBufferThreshold = 32 << 20
	DefaultBufferSize            = 4 << 20
	DefaultConnectTimeout        = 30 * time.Second
	DefaultIOTimeout             = 5 * time.Minute

	// MaxParallelThreadsLimit bounds max_parallel_threads.
	MaxParallelThreadsLimit = 64
)

// Force policy names accepted in configuration.
const (
	ForceNo   = "no"
	ForceYes  = "yes"
	ForceAsk  = "ask"
	ForceSkip = "skip"
)

// Account identifies the server and the user.
type Account struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Zone            string `yaml:"zone"`
	Password        string `yaml:"password"`
	DefaultResource string `yaml:"default_resource"`
}

// Transfer holds session-wide transfer defaults.
type Transfer struct {
	UseParallelTransfer      bool   `yaml:"use_parallel_transfer"`
	MaxParallelThreads       int    `yaml:"max_parallel_threads"`
	SingleBufferThreshold    int64  `yaml:"single_buffer_threshold"`
	BufferSize               int    `yaml:"buffer_size"`
	ComputeChecksum          bool   `yaml:"compute_checksum"`
	VerifyChecksum           bool   `yaml:"verify_checksum"`
	IntraFileStatusCallbacks bool   `yaml:"intra_file_status_callbacks"`
	Force                    string `yaml:"force"`
}

// Properties is the static configuration loaded once per session. The
// transfer core treats it as read-only.
type Properties struct {
	Account          Account       `yaml:"account"`
	Transfer         Transfer      `yaml:"transfer"`
	ChecksumEncoding string        `yaml:"checksum_encoding"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	IOTimeout        time.Duration `yaml:"io_timeout"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
}

// Defaults returns the built-in configuration.
func Defaults() Properties {
	return Properties{
		Account: Account{Port: DefaultPort},
		Transfer: Transfer{
			UseParallelTransfer:   true,
			MaxParallelThreads:    DefaultMaxParallelThreads,
			SingleBufferThreshold: DefaultSingleBufferThreshold,
			BufferSize:            DefaultBufferSize,
			Force:                 ForceNo,
		},
		ChecksumEncoding: "default",
		ConnectTimeout:   DefaultConnectTimeout,
		IOTimeout:        DefaultIOTimeout,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// PreferredChecksum returns the configured checksum policy.
func (p Properties) PreferredChecksum() string {
	return p.ChecksumEncoding
}

// Load builds Properties from defaults, then the YAML file at path (if
// any), then GRIDFLUX_* environment variables, then flags that were set.
func Load(path string, flags *Flags) (Properties, error) {
	return load(path, flags, os.LookupEnv)
}

func load(path string, flags *Flags, lookup func(string) (string, bool)) (Properties, error) {
	p := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, fault.Wrap(fault.ConfigurationError, "load config", errors.Wrapf(err, "read %s", path))
		}
		if p, err = Parse(data, p); err != nil {
			return p, err
		}
	}
	if err := p.applyEnv(lookup); err != nil {
		return p, err
	}
	if flags != nil {
		flags.Apply(&p)
	}
	return p, p.Validate()
}

// Parse overlays YAML data onto base.
func Parse(data []byte, base Properties) (Properties, error) {
	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return base, fault.Wrap(fault.ConfigurationError, "parse config", errors.Wrap(err, "yaml"))
	}
	return p, nil
}

func (p *Properties) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("GRIDFLUX_HOST", &p.Account.Host)
	str("GRIDFLUX_USER", &p.Account.User)
	str("GRIDFLUX_ZONE", &p.Account.Zone)
	str("GRIDFLUX_PASSWORD", &p.Account.Password)
	str("GRIDFLUX_RESOURCE", &p.Account.DefaultResource)
	str("GRIDFLUX_CHECKSUM", &p.ChecksumEncoding)
	str("GRIDFLUX_FORCE", &p.Transfer.Force)
	str("GRIDFLUX_LOG_LEVEL", &p.LogLevel)

	if v, ok := lookup("GRIDFLUX_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fault.Wrap(fault.ConfigurationError, "load config", errors.Wrap(err, "GRIDFLUX_PORT"))
		}
		p.Account.Port = n
	}
	if v, ok := lookup("GRIDFLUX_MAX_THREADS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fault.Wrap(fault.ConfigurationError, "load config", errors.Wrap(err, "GRIDFLUX_MAX_THREADS"))
		}
		p.Transfer.MaxParallelThreads = n
	}
	return nil
}

// Validate checks ranges and enumerations. The password is not required
// here; callers may prompt for it.
func (p Properties) Validate() error {
	var problems []string
	if p.Account.Host == "" {
		problems = append(problems, "account.host is required")
	}
	if p.Account.User == "" {
		problems = append(problems, "account.user is required")
	}
	if p.Account.Zone == "" {
		problems = append(problems, "account.zone is required")
	}
	if p.Account.Port <= 0 || p.Account.Port > 65535 {
		problems = append(problems, "account.port out of range")
	}
	if p.Transfer.MaxParallelThreads < 1 || p.Transfer.MaxParallelThreads > MaxParallelThreadsLimit {
		problems = append(problems, "transfer.max_parallel_threads must be between 1 and "+strconv.Itoa(MaxParallelThreadsLimit))
	}
	if p.Transfer.SingleBufferThreshold <= 0 {
		problems = append(problems, "transfer.single_buffer_threshold must be positive")
	}
	if p.Transfer.BufferSize <= 0 {
		problems = append(problems, "transfer.buffer_size must be positive")
	}
	switch p.Transfer.Force {
	case ForceNo, ForceYes, ForceAsk, ForceSkip:
	default:
		problems = append(problems, "transfer.force must be one of no, yes, ask, skip")
	}
	if !logging.ValidLevel(p.LogLevel) {
		problems = append(problems, "log_level must be one of debug, info, warn, error")
	}
	if len(problems) > 0 {
		return fault.New(fault.ConfigurationError, "validate config", strings.Join(problems, "; "))
	}
	return nil
}

// Flags holds command-line overrides. Only flags the user set are applied.
type Flags struct {
	fs *pflag.FlagSet

	host      string
	port      int
	user      string
	zone      string
	resource  string
	threads   int
	parallel  bool
	checksum  string
	compute   bool
	verify    bool
	force     string
	progress  bool
	logLevel  string
	logFormat string
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.host, "host", "H", "", "server host")
	fs.IntVarP(&f.port, "port", "p", DefaultPort, "server port")
	fs.StringVarP(&f.user, "user", "u", "", "user name")
	fs.StringVarP(&f.zone, "zone", "z", "", "zone name")
	fs.StringVarP(&f.resource, "resource", "R", "", "target storage resource")
	fs.IntVarP(&f.threads, "threads", "N", DefaultMaxParallelThreads, "maximum parallel transfer threads")
	fs.BoolVar(&f.parallel, "parallel", true, "allow parallel transfer")
	fs.StringVar(&f.checksum, "checksum-encoding", "default", "checksum policy (default, strong, md5, sha256)")
	fs.BoolVarP(&f.compute, "checksum", "k", false, "compute and register a checksum")
	fs.BoolVarP(&f.verify, "verify", "K", false, "compute and verify checksums")
	fs.StringVarP(&f.force, "force", "f", ForceNo, "overwrite policy (no, yes, ask, skip)")
	fs.BoolVar(&f.progress, "progress", false, "report intra-file progress")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format (text, json)")
	return f
}

// Apply copies set flags onto p.
func (f *Flags) Apply(p *Properties) {
	changed := func(name string) bool { return f.fs != nil && f.fs.Changed(name) }
	if changed("host") {
		p.Account.Host = f.host
	}
	if changed("port") {
		p.Account.Port = f.port
	}
	if changed("user") {
		p.Account.User = f.user
	}
	if changed("zone") {
		p.Account.Zone = f.zone
	}
	if changed("resource") {
		p.Account.DefaultResource = f.resource
	}
	if changed("threads") {
		p.Transfer.MaxParallelThreads = f.threads
	}
	if changed("parallel") {
		p.Transfer.UseParallelTransfer = f.parallel
	}
	if changed("checksum-encoding") {
		p.ChecksumEncoding = f.checksum
	}
	if changed("checksum") {
		p.Transfer.ComputeChecksum = f.compute
	}
	if changed("verify") {
		p.Transfer.VerifyChecksum = f.verify
	}
	if changed("force") {
		p.Transfer.Force = f.force
	}
	if changed("progress") {
		p.Transfer.IntraFileStatusCallbacks = f.progress
	}
	if changed("log-level") {
		p.LogLevel = f.logLevel
	}
	if changed("log-format") {
		p.LogFormat = f.logFormat
	}
}
