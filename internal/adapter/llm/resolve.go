package llm

import (
	"errors"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/domain/model"
)

// ErrNoAPIKey is a configuration error; the orchestrator surfaces it and
// keeps running.
var ErrNoAPIKey = errors.New("未找到 API 密钥，请在系统设置中配置或设置 SILICONFLOW_API_KEY 环境变量")

// Endpoint is a resolved model binding: which model to call, where, and with
// whose key.
type Endpoint struct {
	Model   string
	APIKey  string
	BaseURL string
}

// ResolveReply picks the reply model for a user: custom model entry first,
// then the user setting, then process defaults.
func ResolveReply(cfg *config.Config, u *model.User) (Endpoint, error) {
	return resolve(cfg, u, model.ModelKindReply, u.Settings.ReplyModel, cfg.AI.ReplyModel)
}

// ResolveEmbedding picks the embedding model with the same precedence.
func ResolveEmbedding(cfg *config.Config, u *model.User) (Endpoint, error) {
	return resolve(cfg, u, model.ModelKindEmbedding, u.Settings.EmbeddingModel, cfg.AI.EmbeddingModel)
}

func resolve(cfg *config.Config, u *model.User, kind model.CustomModelKind, userModel, defaultModel string) (Endpoint, error) {
	ep := Endpoint{
		Model:   defaultModel,
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.APIBase,
	}
	if u != nil {
		if userModel != "" {
			ep.Model = userModel
		}
		if u.Settings.APIKey != "" {
			ep.APIKey = u.Settings.APIKey
		}
		for _, cm := range u.CustomModels {
			if cm.Kind != kind || cm.ModelID == "" {
				continue
			}
			// The selected custom model is the one matching the user's
			// configured model id, or the first of its kind when none is
			// configured.
			if userModel == "" || cm.ModelID == userModel {
				ep.Model = cm.ModelID
				if cm.APIKey != "" {
					ep.APIKey = cm.APIKey
				}
				if cm.BaseURL != "" {
					ep.BaseURL = cm.BaseURL
				}
				break
			}
		}
	}
	if ep.APIKey == "" {
		return Endpoint{}, ErrNoAPIKey
	}
	return ep, nil
}
