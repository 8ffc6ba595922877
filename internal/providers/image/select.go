package image

import (
	"net/http"

	"stickerpack/internal/infra"
)

// FromConfig picks the generator and optional background remover. OpenAI is
// preferred, then Replicate, then the placeholder. IMAGE_PROVIDER forces a
// choice when its credentials exist.
func FromConfig(cfg *infra.Config, httpClient *http.Client, logger *infra.Logger) (Generator, BackgroundRemover, error) {
	var replicate *ReplicateClient
	if cfg.ReplicateAPIToken != "" {
		c, err := NewReplicateClient(ReplicateOptions{
			APIToken:   cfg.ReplicateAPIToken,
			BaseURL:    cfg.ReplicateBaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		replicate = c
	}

	var remover BackgroundRemover
	if replicate != nil && cfg.ReplicateRemoverModel != "" {
		remover = NewReplicateRemover(replicate, cfg.ReplicateRemoverModel)
	}

	useOpenAI := cfg.OpenAIAPIKey != "" && cfg.ImageProvider != "replicate"
	switch {
	case useOpenAI:
		gen, err := NewOpenAIGenerator(OpenAIOptions{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		// Transparent output already, no removal step needed.
		return gen, nil, nil
	case replicate != nil:
		return NewReplicateGenerator(replicate, cfg.ReplicateModel), remover, nil
	default:
		logger.Warn().Msg("image: no provider credentials, using placeholder stickers")
		return NewPlaceholderGenerator(), nil, nil
	}
}
