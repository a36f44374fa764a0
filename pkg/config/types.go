package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	errBrokerRequired = errors.New("broker address is required")
	errDBPathRequired = errors.New("db_path is required")
	errNoChannelKeys  = errors.New("no default key and no channel keys configured")
)

type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

const (
	defaultWorkers      = 4
	defaultDedupEntries = 4096
	defaultDedupAge     = 10 * time.Minute
	defaultQueueSize    = 512
)

// CaptureConfig is the resolved configuration the capture daemon consumes.
// Loading and validation happen once at startup; the pipeline never reloads.
type CaptureConfig struct {
	Broker      string `json:"broker"` // e.g., tcp://mqtt.example.net:1883
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix"` // e.g., msh/US

	DefaultKey  string            `json:"default_key,omitempty"` // base64
	ChannelKeys map[string]string `json:"channel_keys,omitempty"`

	DBPath     string `json:"db_path"`
	ListenAddr string `json:"listen_addr"` // read API; empty disables it

	Workers      int      `json:"workers,omitempty"`
	QueueSize    int      `json:"queue_size,omitempty"`
	DedupEntries int      `json:"dedup_entries,omitempty"`
	DedupAge     Duration `json:"dedup_age,omitempty"`
	Retention    Duration `json:"retention,omitempty"` // zero disables pruning
}

// Validate checks the required fields and fills defaults.
func (c *CaptureConfig) Validate() error {
	if c.Broker == "" {
		return errBrokerRequired
	}

	if c.DBPath == "" {
		return errDBPathRequired
	}

	if c.DefaultKey == "" && len(c.ChannelKeys) == 0 {
		return errNoChannelKeys
	}

	if c.ClientID == "" {
		c.ClientID = "meshradar-capture"
	}

	if c.TopicPrefix == "" {
		c.TopicPrefix = "msh"
	}

	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}

	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	if c.DedupEntries <= 0 {
		c.DedupEntries = defaultDedupEntries
	}

	if c.DedupAge <= 0 {
		c.DedupAge = Duration(defaultDedupAge)
	}

	return nil
}
