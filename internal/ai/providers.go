package ai

// ProviderInfo describes a selectable backend and the models the server is
// configured to use with it.
type ProviderInfo struct {
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Models []string `json:"models"`
}

// Catalog lists the supported providers. The active provider carries the
// configured chat and embedding models.
func Catalog(active Options) []ProviderInfo {
	providers := []string{ProviderOllama, ProviderOpenAI}

	infos := make([]ProviderInfo, 0, len(providers))
	for _, name := range providers {
		info := ProviderInfo{Name: name}
		if name == active.Provider {
			info.Active = true
			info.Models = activeModels(active)
		}
		infos = append(infos, info)
	}
	return infos
}

func activeModels(opts Options) []string {
	var models []string
	seen := make(map[string]bool)
	for _, m := range []string{opts.Model, opts.EmbedModel} {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return models
}
