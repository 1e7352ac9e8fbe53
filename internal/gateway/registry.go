package gateway

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/client"
	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/model"
)

// Variant names one vendor/model pairing
type Variant string

const (
	VariantTextToVideo      Variant = "text-to-video"
	VariantImageToVideo     Variant = "image-to-video"
	VariantImageToVideoPlus Variant = "image-to-video-plus"
	VariantTranscription    Variant = "transcription"
)

// Registry picks the gateway variant for a job
type Registry struct {
	gateways         map[Variant]Gateway
	premiumTemplates map[string]bool
}

// NewRegistry creates a registry from explicit variants
func NewRegistry(gateways map[Variant]Gateway, premiumTemplates []string) *Registry {
	premium := make(map[string]bool, len(premiumTemplates))
	for _, t := range premiumTemplates {
		premium[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Registry{gateways: gateways, premiumTemplates: premium}
}

// NewDashScopeRegistry wires every variant to DashScope. Text-to-video uses
// the dedicated video key when one is configured.
func NewDashScopeRegistry(cfg *config.Config, log zerolog.Logger) *Registry {
	ds := &cfg.DashScope
	defaultClient := client.NewDashScopeClient(ds, ds.APIKey, log)
	videoClient := defaultClient
	if ds.VideoAPIKey != "" {
		videoClient = client.NewDashScopeClient(ds, ds.VideoAPIKey, log)
	}

	return NewRegistry(map[Variant]Gateway{
		VariantTextToVideo:      NewTextToVideoGateway(videoClient, ds.TextToVideoModel, ds.DefaultResolution),
		VariantImageToVideo:     NewImageToVideoGateway(defaultClient, ds.ImageToVideoModel, ds.DefaultResolution),
		VariantImageToVideoPlus: NewImageToVideoGateway(defaultClient, ds.ImageToVideoPlusModel, ds.DefaultResolution),
		VariantTranscription:    NewTranscriptionGateway(defaultClient, ds.TranscriptionModel),
	}, cfg.Pricing.PremiumTemplates)
}

// IsPremium reports whether template needs the plus model
func (r *Registry) IsPremium(template string) bool {
	return r.premiumTemplates[strings.ToLower(template)]
}

// VariantFor returns the variant serving kind and template
func (r *Registry) VariantFor(kind model.JobKind, template string) (Variant, error) {
	switch kind {
	case model.JobKindTextToVideo:
		return VariantTextToVideo, nil
	case model.JobKindImageToVideo:
		return VariantImageToVideo, nil
	case model.JobKindImageToVideoTemplate:
		if r.IsPremium(template) {
			return VariantImageToVideoPlus, nil
		}
		return VariantImageToVideo, nil
	case model.JobKindTranscription:
		return VariantTranscription, nil
	default:
		return "", fmt.Errorf("no gateway for job kind %q", kind)
	}
}

// Resolve returns the gateway for kind and template
func (r *Registry) Resolve(kind model.JobKind, template string) (Gateway, Variant, error) {
	variant, err := r.VariantFor(kind, template)
	if err != nil {
		return nil, "", err
	}
	gw, err := r.Lookup(variant)
	if err != nil {
		return nil, "", err
	}
	return gw, variant, nil
}

// Lookup returns the gateway registered for variant
func (r *Registry) Lookup(variant Variant) (Gateway, error) {
	gw, ok := r.gateways[variant]
	if !ok {
		return nil, fmt.Errorf("gateway variant %q not configured", variant)
	}
	return gw, nil
}
