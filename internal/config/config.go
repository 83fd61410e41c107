package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Controller Controller `mapstructure:"controller" validate:"required"`
	Logging    Logging    `mapstructure:"logging" validate:"required"`
	Monitoring Monitoring `mapstructure:"monitoring" validate:"required"`
	Simulation Simulation `mapstructure:"simulation" validate:"required"`
	Profile    []Step     `mapstructure:"profile" validate:"required,min=1,dive"`
}

type Controller struct {
	// SamplePeriod is the control period in seconds.
	SamplePeriod      *float64 `mapstructure:"samplePeriod" validate:"required,gt=0"`
	DeadbandThreshold *int32   `mapstructure:"deadbandThreshold" validate:"required,gte=0"`
	// MinimumOutput should be at least DeadbandThreshold, though this is not
	// enforced.
	MinimumOutput  *int32    `mapstructure:"minimumOutput" validate:"required,gte=0"`
	PWMResolution  *int32    `mapstructure:"pwmResolution" validate:"required,gt=0"`
	SaturateOutput *bool     `mapstructure:"saturateOutput" validate:"required"`
	PID            PID       `mapstructure:"pid" validate:"required"`
	InputFilter    Filter    `mapstructure:"inputFilter" validate:"required"`
	OutputFilter   Filter    `mapstructure:"outputFilter" validate:"required"`
	RateLimit      RateLimit `mapstructure:"rateLimit" validate:"required"`
}

type PID struct {
	Kp            *float64 `mapstructure:"kp" validate:"required,gte=0"`
	Ki            *float64 `mapstructure:"ki" validate:"required,gte=0"`
	Kd            *float64 `mapstructure:"kd" validate:"required,gte=0"`
	IsReversed    *bool    `mapstructure:"isReversed" validate:"required"`
	MinOutput     *float64 `mapstructure:"minOutput" validate:"required"`
	MaxOutput     *float64 `mapstructure:"maxOutput" validate:"required"`
	MinSampleTime *float64 `mapstructure:"minSampleTime" validate:"required,gte=0"`
}

type Filter struct {
	Kind *string `mapstructure:"kind" validate:"required,oneof=none lowpass movingaverage median"`
	// Alpha must be set for the lowpass kind.
	Alpha *float64 `mapstructure:"alpha" validate:"required_if=Kind lowpass"`
	// Window must be set for the movingaverage and median kinds.
	Window *int `mapstructure:"window" validate:"required_if=Kind movingaverage,required_if=Kind median"`
}

type RateLimit struct {
	Enabled *bool `mapstructure:"enabled" validate:"required"`
	// MaxStep is the largest setpoint change per control period, in rad/s.
	MaxStep *float64 `mapstructure:"maxStep" validate:"required_if=Enabled true"`
}

type Logging struct {
	Driver *string `mapstructure:"driver" validate:"required,oneof=noop stdout influxdb"`
	// InfluxDB is a pointer as it is only validated when Driver is influxdb.
	InfluxDB *InfluxDB `mapstructure:"influxdb" validate:"required_if=Driver influxdb"`
	// Every is the number of control periods between logged iterations.
	Every *int `mapstructure:"every" validate:"required,gt=0"`
}

type InfluxDB struct {
	Host   *string `mapstructure:"host" validate:"required"`
	Token  *string `mapstructure:"token" validate:"required"`
	Org    *string `mapstructure:"org" validate:"required"`
	Bucket *string `mapstructure:"bucket" validate:"required"`
}

type Monitoring struct {
	Collector *string `mapstructure:"collector" validate:"required,oneof=tachymeter array"`
	Window    *int    `mapstructure:"window" validate:"required,gt=0"`
	// ReportInterval is the number of control periods between loop time and
	// tracking error reports.
	ReportInterval *int `mapstructure:"reportInterval" validate:"required,gt=0"`
}

type Simulation struct {
	MaxVelocity        *float64 `mapstructure:"maxVelocity" validate:"required,gt=0"`
	TimeConstant       *float64 `mapstructure:"timeConstant" validate:"required,gt=0"`
	Stiction           *int32   `mapstructure:"stiction" validate:"required,gte=0"`
	TicksPerRevolution *int     `mapstructure:"ticksPerRevolution" validate:"required,gt=0"`
	NoiseStdDev        *float64 `mapstructure:"noiseStdDev" validate:"required,gte=0"`
	Seed               *uint64  `mapstructure:"seed" validate:"required"`
}

// Step holds the desired speed for a number of seconds.
type Step struct {
	Speed    *float64 `mapstructure:"speed" validate:"required"`
	Duration *float64 `mapstructure:"duration" validate:"required,gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Controller.SamplePeriod", 0.01)
	v.SetDefault("Controller.DeadbandThreshold", 5)
	v.SetDefault("Controller.MinimumOutput", 20)
	v.SetDefault("Controller.PWMResolution", 1000)
	v.SetDefault("Controller.SaturateOutput", true)
	v.SetDefault("Controller.PID.Kp", 0.005)
	v.SetDefault("Controller.PID.Ki", 0.05)
	v.SetDefault("Controller.PID.Kd", 0)
	v.SetDefault("Controller.PID.IsReversed", false)
	v.SetDefault("Controller.PID.MinOutput", -1)
	v.SetDefault("Controller.PID.MaxOutput", 1)
	v.SetDefault("Controller.PID.MinSampleTime", 0)
	v.SetDefault("Controller.InputFilter.Kind", "lowpass")
	v.SetDefault("Controller.InputFilter.Alpha", 0.5)
	v.SetDefault("Controller.OutputFilter.Kind", "none")
	v.SetDefault("Controller.RateLimit.Enabled", true)
	v.SetDefault("Controller.RateLimit.MaxStep", 1)

	v.SetDefault("Logging.Driver", "stdout")
	v.SetDefault("Logging.Every", 50)

	v.SetDefault("Monitoring.Collector", "tachymeter")
	v.SetDefault("Monitoring.Window", 1000)
	v.SetDefault("Monitoring.ReportInterval", 100)

	v.SetDefault("Simulation.MaxVelocity", 100)
	v.SetDefault("Simulation.TimeConstant", 0.1)
	v.SetDefault("Simulation.Stiction", 30)
	v.SetDefault("Simulation.TicksPerRevolution", 4096)
	v.SetDefault("Simulation.NoiseStdDev", 0)
	v.SetDefault("Simulation.Seed", 1)

	v.SetDefault("Profile", []map[string]interface{}{
		{"speed": 40, "duration": 5},
		{"speed": -20, "duration": 5},
		{"speed": 0, "duration": 2},
	})
}

// Load reads and validates the configuration held by v, applying defaults
// for any missing values.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error occured while reading configuration: err = %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return nil, fmt.Errorf("unable to validate config: err = %w", err)
		}

		messages := make([]string, len(validationErrors))
		for i, validationErr := range validationErrors {
			messages[i] = validationErr.Error()
		}
		return nil, fmt.Errorf("encountered validation errors:\n\t%s", strings.Join(messages, "\n\t"))
	}

	return &config, nil
}

// newViper returns a viper instance where every key can be overridden from the
// environment, with nested keys joined by underscores, e.g. CONTROLLER_PID_KP
// for controller.pid.kp.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadConfig reads config.yaml from the working directory or /app, exiting
// the process if the configuration cannot be used.
func ReadConfig() *Config {
	v := newViper()

	v.SetConfigType("yaml")
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("config.yaml not found in . or /app; using defaults")
		} else {
			log.Fatalf("error when reading config file: err = %s", err)
		}
	}

	config, err := Load(v)
	if err != nil {
		log.Printf("%s\n", err)
		log.Println("Check your configuration file and try again.")
		os.Exit(1)
	}
	return config
}
