// Package broker connects the daemon to the provider's message bus:
// provider events are consumed into the ingest engine and outbound
// messages are published for delivery.
package broker

import "time"

// Config describes the AMQP topology.
type Config struct {
	URL string `toml:"url" env:"INBOX_BROKER_URL"`

	// EventsExchange is the topic exchange the provider publishes events to.
	EventsExchange string `toml:"events_exchange" env:"INBOX_BROKER_EVENTS_EXCHANGE" env-default:"inbox.events"`
	EventsQueue    string `toml:"events_queue" env:"INBOX_BROKER_EVENTS_QUEUE" env-default:"inbox.ingest"`
	BindingKey     string `toml:"binding_key" env-default:"#"`

	// Outbound is the topic exchange outbound messages are published to,
	// routed by "outbound.<channel>".
	OutboundExchange string `toml:"outbound_exchange" env:"INBOX_BROKER_OUTBOUND_EXCHANGE" env-default:"inbox.outbound"`

	Prefetch int `toml:"prefetch" env-default:"16"`

	// PoisonToFinal keeps a copy of undecodable events in <queue>.final.
	PoisonToFinal bool `toml:"poison_to_final" env-default:"true"`

	ReconnectBaseSeconds   int `toml:"reconnect_base_seconds" env-default:"1"`
	ReconnectCapSeconds    int `toml:"reconnect_cap_seconds" env-default:"30"`
	ReconnectJitterPercent int `toml:"reconnect_jitter_percent" env-default:"25"`

	PublishTimeoutSeconds int `toml:"publish_timeout_seconds" env-default:"5"`
}

// Enabled reports whether a broker URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Backoff returns the base and cap of the reconnect delay.
func (c Config) Backoff() (base, capd time.Duration) {
	return dsec(c.ReconnectBaseSeconds, 1), dsec(c.ReconnectCapSeconds, 30)
}

func (c Config) publishTimeout() time.Duration {
	return dsec(c.PublishTimeoutSeconds, 5)
}

func dsec(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
