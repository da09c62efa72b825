package hostcmd

import (
	"errors"
	"os"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	AppName           = "imu-host"
	DefaultConfigName = "config"
	DefaultDevice     = "host-sim"
	DefaultListen     = "127.0.0.1:9108"
)

var userHomeDir, _ = os.UserHomeDir()
var DefaultConfigPath = path.Join(userHomeDir, ".config", AppName, DefaultConfigName+".yaml")

// BusOpt selects where the hub lives: "sim" or "i2c" (Linux, via embd).
type BusOpt struct {
	Kind   string `yaml:"kind" mapstructure:"kind"`
	Number int    `yaml:"number" mapstructure:"number"`
}

// SimOpt scripts the simulated hub and central.
type SimOpt struct {
	SpinRate       float64 `yaml:"spin_rate" mapstructure:"spin_rate"`               // rad/s about Z
	ConnectAfterMs int     `yaml:"connect_after_ms" mapstructure:"connect_after_ms"` // 0 never connects
	RateMs         int     `yaml:"rate_ms" mapstructure:"rate_ms"`                   // written after subscribing, 0 skips
	DurationMs     int     `yaml:"duration_ms" mapstructure:"duration_ms"`           // 0 runs until interrupted
	TxQueue        int     `yaml:"tx_queue" mapstructure:"tx_queue"`
}

type Opt struct {
	Device  string `yaml:"device" mapstructure:"device"`
	Bus     BusOpt `yaml:"bus" mapstructure:"bus"`
	Sim     SimOpt `yaml:"sim" mapstructure:"sim"`
	Debug   bool   `yaml:"debug" mapstructure:"debug"`
	Listen  string `yaml:"listen" mapstructure:"listen"`   // metrics, empty disables
	Samples bool   `yaml:"samples" mapstructure:"samples"` // log every notification
}

func NewOpt() Opt {
	return Opt{
		Device: DefaultDevice,
		Bus:    BusOpt{Kind: "sim", Number: 1},
		Sim: SimOpt{
			SpinRate:       0.5,
			ConnectAfterMs: 1000,
			TxQueue:        8,
		},
		Listen: DefaultListen,
	}
}

// Desc is the parsed options plus the viper instance they came from.
type Desc struct {
	Opt   Opt
	Viper *viper.Viper
}

// Parse layers defaults, the config file, IMU_HOST_* environment
// variables and command line flags, in increasing precedence.
func (d *Desc) Parse(cmd *cobra.Command) error {
	def := NewOpt()
	v := viper.New()
	v.SetDefault("device", def.Device)
	v.SetDefault("bus.kind", def.Bus.Kind)
	v.SetDefault("bus.number", def.Bus.Number)
	v.SetDefault("sim.spin_rate", def.Sim.SpinRate)
	v.SetDefault("sim.connect_after_ms", def.Sim.ConnectAfterMs)
	v.SetDefault("sim.rate_ms", def.Sim.RateMs)
	v.SetDefault("sim.tx_queue", def.Sim.TxQueue)
	v.SetDefault("sim.duration_ms", def.Sim.DurationMs)
	v.SetDefault("listen", def.Listen)
	v.SetDefault("debug", false)
	v.SetDefault("samples", false)

	if f, err := cmd.Flags().GetString("config"); err == nil && f != "" {
		v.SetConfigFile(f)
	} else if f := os.Getenv("IMU_HOST_CONFIG"); f != "" {
		v.SetConfigFile(f)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(path.Join(userHomeDir, ".config", AppName))
		v.AddConfigPath("/etc/" + AppName)
		v.AddConfigPath("./")
	}

	v.SetEnvPrefix("imu_host")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"device":               "device",
		"bus.kind":             "bus",
		"bus.number":           "i2c-bus",
		"listen":               "listen",
		"debug":                "debug",
		"samples":              "samples",
		"sim.duration_ms":      "duration-ms",
		"sim.connect_after_ms": "connect-after-ms",
		"sim.rate_ms":          "rate-ms",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}

	if err := v.ReadInConfig(); err == nil {
		log.Debugln("using config file:", v.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	if err := v.Unmarshal(&d.Opt); err != nil {
		return err
	}
	d.Viper = v
	return nil
}

// PostParse applies the logging options.
func (d *Desc) PostParse() {
	if d.Opt.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// Dump writes o as YAML to p. An existing file is kept unless overwrite.
func Dump(o Opt, p string, overwrite bool) error {
	if _, err := os.Stat(p); err == nil && !overwrite {
		return errors.New(p + " exists, use -y to overwrite")
	}
	if err := os.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(o)
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}
