package provider

import "github.com/example/messaging-gateway/internal/config"

// Available reports which provider identifiers are usable given the
// supplied config, per spec §4.2: P1 only if credentials are present and
// not explicitly disabled; P2 unless explicitly disabled.
func Available(cfg config.ProvidersConfig) []string {
	var ids []string
	if cfg.P1Enabled && cfg.P1Credentials != "" {
		ids = append(ids, config.ProviderOfficial)
	}
	if cfg.P2Enabled {
		ids = append(ids, config.ProviderQRSocket)
	}
	return ids
}

// Priority returns [primary, fallback] with entries pointing at unavailable
// providers filtered out. Order is deterministic: primary first, then
// whichever of the two remaining ids is available.
func Priority(cfg config.ProvidersConfig) []string {
	available := make(map[string]bool)
	for _, id := range Available(cfg) {
		available[id] = true
	}

	primary := cfg.Primary
	if primary == "" {
		primary = config.ProviderOfficial
	}

	fallback := config.ProviderOfficial
	if primary == config.ProviderOfficial {
		fallback = config.ProviderQRSocket
	}

	var order []string
	if available[primary] {
		order = append(order, primary)
	}
	if fallback != primary && available[fallback] {
		order = append(order, fallback)
	}
	return order
}
