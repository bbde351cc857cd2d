package model

// CustomModelKind separates reply models from embedding models in the
// per-user custom model list.
type CustomModelKind string

const (
	ModelKindReply     CustomModelKind = "reply"
	ModelKindEmbedding CustomModelKind = "embedding"
)

// CustomModel is a user-registered model descriptor.
type CustomModel struct {
	Provider string          `json:"provider"`
	ModelID  string          `json:"modelId"`
	APIKey   string          `json:"apiKey"`
	Kind     CustomModelKind `json:"kind"`
	BaseURL  string          `json:"baseUrl,omitempty"`
}

// Settings carries the per-user AI and scheduling configuration.
type Settings struct {
	ReplyModel     string `json:"replyModel,omitempty"`
	EmbeddingModel string `json:"embeddingModel,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`

	AutoProcess bool `json:"autoProcess"`
	AutoSend    bool `json:"autoSend"`

	// CheckInterval is the monitor poll interval in minutes.
	CheckInterval int `json:"checkInterval"`
	// BatchSize bounds one batch of a full sweep, clamped to [1, 30].
	BatchSize int `json:"batchSize"`
	// SingleConcurrency sizes the single-item pool, clamped to [2, 20].
	SingleConcurrency int `json:"singleConcurrency"`

	Signature string `json:"signature,omitempty"`
	Greeting  string `json:"greeting,omitempty"`
	Closing   string `json:"closing,omitempty"`
}

// Device is one remembered login session. The list on a user is bounded to
// the 5 most recent with exactly one marked current.
type Device struct {
	ID        string `json:"id"`
	UserAgent string `json:"userAgent"`
	IP        string `json:"ip"`
	LoginTime string `json:"loginTime"`
	Current   bool   `json:"current"`
}

// ChatMessage is one entry of the stored assistant chat history (bounded 50).
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Time    string `json:"time"`
}

// User is the persisted account record. UserID is the stable identity; the
// username is a mutable alias and the key of the user_data.json map.
type User struct {
	UserID       string `json:"user_id"`
	PasswordHash string `json:"password"`

	Email         string `json:"email,omitempty"`
	EmailAuthCode string `json:"emailAuthCode,omitempty"`

	Devices      []Device       `json:"devices,omitempty"`
	Preferences  map[string]any `json:"preferences,omitempty"`
	Settings     Settings       `json:"settings"`
	CustomModels []CustomModel  `json:"customModels,omitempty"`
	ChatHistory  []ChatMessage  `json:"chatHistory,omitempty"`

	RegisterTime string `json:"registerTime,omitempty"`
	LastLogin    string `json:"lastLogin,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
}

const (
	MaxDevices     = 5
	MaxChatHistory = 50
)

// ClampBatchSize bounds a configured sweep batch size.
func ClampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > 30 {
		return 30
	}
	return n
}

// ClampSingleConcurrency bounds the single-item pool size.
func ClampSingleConcurrency(n int) int {
	if n < 2 {
		return 2
	}
	if n > 20 {
		return 20
	}
	return n
}
