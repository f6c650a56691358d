package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Metrics mirrors one training step's metrics
type Metrics struct {
	MeanRank  int     `json:"mean_rank"`
	Loss      float64 `json:"loss"`
	Negatives int     `json:"negatives"`
}

// Reply is the agent's output for one turn
type Reply struct {
	ID             string   `json:"id,omitempty"`
	Text           string   `json:"text,omitempty"`
	TextCandidates []string `json:"text_candidates,omitempty"`
	Metrics        *Metrics `json:"metrics,omitempty"`
}

// AgentInfoResponse reports the active agent configuration
type AgentInfoResponse struct {
	ID       string           `json:"id"`
	Model    ModelSettings    `json:"model"`
	Training TrainingSettings `json:"training"`
	History  HistorySettings  `json:"history"`
}

// ModelSettings is the model section of the agent configuration
type ModelSettings struct {
	EmbeddingSize int     `json:"embedding_size"`
	EmbeddingNorm float64 `json:"embedding_norm"`
	SharedTables  bool    `json:"shared_tables"`
	TFIDF         bool    `json:"tfidf"`
	Vocab         int     `json:"vocab"`
}

// TrainingSettings is the training section of the agent configuration
type TrainingSettings struct {
	LearningRate float64 `json:"learning_rate"`
	Margin       float64 `json:"margin"`
	Optimizer    string  `json:"optimizer"`
	NegSamples   int     `json:"neg_samples"`
	ParrotNeg    bool    `json:"parrot_neg"`
	CacheSize    int     `json:"cache_size"`
	Truncate     int     `json:"truncate"`
}

// HistorySettings is the dialog history section of the agent configuration
type HistorySettings struct {
	Length  int    `json:"length"`
	Replies string `json:"replies"`
}

// ModelInfoResponse describes the loaded model
type ModelInfoResponse struct {
	Vocab           int    `json:"vocab"`
	EmbeddingSize   int    `json:"embedding_size"`
	SharedTables    bool   `json:"shared_tables"`
	Optimizer       string `json:"optimizer"`
	FixedCandidates int    `json:"fixed_candidates"`
	LiveSessions    int    `json:"live_sessions"`
}

// SaveRequest asks the server to persist the model
type SaveRequest struct {
	Path string `json:"path,omitempty"`
}

// SaveResponse reports the result of a save
type SaveResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
}

// Neighbor is one nearest-neighbor hit for a vocabulary token
type Neighbor struct {
	Token string  `json:"token"`
	Score float64 `json:"score"`
}

// NeighborsResponse lists the tokens closest to the queried one
type NeighborsResponse struct {
	Token     string     `json:"token"`
	Neighbors []Neighbor `json:"neighbors"`
}
