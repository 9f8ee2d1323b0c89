package provider

import (
	"github.com/groundgame/textrelay/internal/config"
	"github.com/groundgame/textrelay/internal/model"
)

// NewRegistry wires every carrier adapter around one shared Recorder. The
// noop adapter is always present so demo organizations work without carrier
// credentials.
func NewRegistry(cfg config.Config, rec *Recorder) Registry {
	base := cfg.Webhooks.BaseURL
	padding := cfg.Sending.SendBeforePadding

	return Registry{
		model.ServiceTwilio:    NewTwilioAdapter(cfg.Providers.Twilio, base, padding, rec),
		model.ServiceVonage:    NewVonageAdapter(cfg.Providers.Vonage, base, padding, rec),
		model.ServiceBandwidth: NewBandwidthAdapter(cfg.Providers.Bandwidth, base, padding, rec),
		model.ServiceNoop:      NewNoopAdapter(rec),
	}
}
