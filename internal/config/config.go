// Package config loads the board description from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/voicebox/board.yaml"

type Config struct {
	I2C     I2CConfig     `yaml:"i2c"`
	Rails   RailsConfig   `yaml:"rails"`
	Battery BatteryConfig `yaml:"battery"`
	Buttons ButtonsConfig `yaml:"buttons"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

type I2CConfig struct {
	// Bus is the periph bus name, empty for the first bus.
	Bus string `yaml:"bus"`
	// Direct opens the bus in this process instead of going through the i2c service.
	Direct          bool   `yaml:"direct"`
	BusyPin         string `yaml:"busy_pin"`
	ExpanderAddress uint16 `yaml:"expander_address"`
	ADCAddress      uint16 `yaml:"adc_address"`
}

// RailsConfig holds expander pin numbers (0-7).
type RailsConfig struct {
	EPD     int `yaml:"epd"`
	Audio   int `yaml:"audio"`
	CodecPA int `yaml:"codec_pa"`
	Vbat    int `yaml:"vbat"`
}

type BatteryConfig struct {
	ADCChannel        int           `yaml:"adc_channel"`
	Divider           float64       `yaml:"divider"`
	DirectionInterval time.Duration `yaml:"direction_interval"`
	StatusInterval    time.Duration `yaml:"status_interval"`
}

type ButtonsConfig struct {
	Chip string `yaml:"chip"`
	Boot int    `yaml:"boot"`
	// Power is the power key line, also used to hold the board on at boot.
	Power     int           `yaml:"power"`
	PowerPin  string        `yaml:"power_pin"`
	LongPress time.Duration `yaml:"long_press"`
	Debounce  time.Duration `yaml:"debounce"`
}

type MQTTConfig struct {
	// Broker is disabled when empty.
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func Default() Config {
	return Config{
		I2C: I2CConfig{
			ExpanderAddress: 0x20,
			ADCAddress:      0x48,
		},
		Rails: RailsConfig{
			EPD:     0,
			Audio:   1,
			CodecPA: 3,
			Vbat:    5,
		},
		Battery: BatteryConfig{
			ADCChannel:        0,
			Divider:           2.0,
			DirectionInterval: 30 * time.Second,
			StatusInterval:    10 * time.Second,
		},
		Buttons: ButtonsConfig{
			Chip:      "gpiochip0",
			Boot:      9,
			Power:     18,
			PowerPin:  "GPIO18",
			LongPress: 2 * time.Second,
			Debounce:  20 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			ClientID:    "epd-board-controller",
			TopicPrefix: "voicebox/board",
		},
	}
}

// Load reads the config at path. A missing file gives the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyDefaults fills values that cannot be zero.
func applyDefaults(c *Config) {
	d := Default()
	if c.I2C.ExpanderAddress == 0 {
		c.I2C.ExpanderAddress = d.I2C.ExpanderAddress
	}
	if c.I2C.ADCAddress == 0 {
		c.I2C.ADCAddress = d.I2C.ADCAddress
	}
	if c.Battery.Divider == 0 {
		c.Battery.Divider = d.Battery.Divider
	}
	if c.Battery.DirectionInterval == 0 {
		c.Battery.DirectionInterval = d.Battery.DirectionInterval
	}
	if c.Battery.StatusInterval == 0 {
		c.Battery.StatusInterval = d.Battery.StatusInterval
	}
	if c.Buttons.Chip == "" {
		c.Buttons.Chip = d.Buttons.Chip
	}
	if c.Buttons.LongPress == 0 {
		c.Buttons.LongPress = d.Buttons.LongPress
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
}

func (c *Config) validate() error {
	for name, pin := range map[string]int{
		"epd":      c.Rails.EPD,
		"audio":    c.Rails.Audio,
		"codec_pa": c.Rails.CodecPA,
		"vbat":     c.Rails.Vbat,
	} {
		if pin < 0 || pin > 7 {
			return fmt.Errorf("rails.%s: expander pin %d out of range", name, pin)
		}
	}
	if c.Battery.ADCChannel < 0 || c.Battery.ADCChannel > 3 {
		return fmt.Errorf("battery.adc_channel: %d out of range", c.Battery.ADCChannel)
	}
	return nil
}
