package models

import "encoding/json"

// MessagePreviewLength bounds the text_preview carried in USER_MESSAGE
// payloads. The full text length is preserved separately.
const MessagePreviewLength = 200

// TaskCreatedPayload is the payload of TASK_CREATED.
type TaskCreatedPayload struct {
	Title    string `json:"title"`
	ThreadID string `json:"thread_id"`
	ScopeID  string `json:"scope_id,omitempty"`
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
}

// UserMessagePayload is the payload of USER_MESSAGE.
type UserMessagePayload struct {
	TextPreview     string `json:"text_preview"`
	TextLength      int    `json:"text_length"`
	AttachmentCount int    `json:"attachment_count"`
}

// StateTransitionPayload is the payload of STATE_TRANSITION.
type StateTransitionPayload struct {
	FromStatus TaskStatus `json:"from_status"`
	ToStatus   TaskStatus `json:"to_status"`
	Reason     string     `json:"reason,omitempty"`
}

// ModelCallStartedPayload is the payload of MODEL_CALL_STARTED.
type ModelCallStartedPayload struct {
	ModelAlias     string `json:"model_alias"`
	RequestSummary string `json:"request_summary"`
}

// TokenUsage counts tokens of a single model call.
//
// Earlier stored payloads used the short keys prompt/completion/total;
// decoding accepts both spellings, encoding always writes the long ones.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UnmarshalJSON accepts both the current long keys and the legacy short keys.
func (u *TokenUsage) UnmarshalJSON(data []byte) error {
	var raw struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
		TotalTokens      *int `json:"total_tokens"`
		Prompt           *int `json:"prompt"`
		Completion       *int `json:"completion"`
		Total            *int `json:"total"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.PromptTokens != nil:
		u.PromptTokens = *raw.PromptTokens
	case raw.Prompt != nil:
		u.PromptTokens = *raw.Prompt
	}
	switch {
	case raw.CompletionTokens != nil:
		u.CompletionTokens = *raw.CompletionTokens
	case raw.Completion != nil:
		u.CompletionTokens = *raw.Completion
	}
	switch {
	case raw.TotalTokens != nil:
		u.TotalTokens = *raw.TotalTokens
	case raw.Total != nil:
		u.TotalTokens = *raw.Total
	}
	return nil
}

// ModelCallCompletedPayload is the payload of MODEL_CALL_COMPLETED.
type ModelCallCompletedPayload struct {
	ModelAlias      string     `json:"model_alias"`
	ModelName       string     `json:"model_name"`
	Provider        string     `json:"provider"`
	ResponseSummary string     `json:"response_summary"`
	DurationMS      int64      `json:"duration_ms"`
	TokenUsage      TokenUsage `json:"token_usage"`
	CostUSD         float64    `json:"cost_usd"`
	CostUnavailable bool       `json:"cost_unavailable"`
	IsFallback      bool       `json:"is_fallback"`
	FallbackReason  string     `json:"fallback_reason,omitempty"`
	ArtifactRef     string     `json:"artifact_ref,omitempty"`
}

// ModelCallFailedPayload is the payload of MODEL_CALL_FAILED. ErrorMessage
// is a sanitized user-facing string; the raw error goes to logs only.
type ModelCallFailedPayload struct {
	ModelAlias   string `json:"model_alias"`
	ModelName    string `json:"model_name,omitempty"`
	Provider     string `json:"provider,omitempty"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	DurationMS   int64  `json:"duration_ms"`
	IsFallback   bool   `json:"is_fallback"`
}

// ArtifactCreatedPayload is the payload of ARTIFACT_CREATED.
type ArtifactCreatedPayload struct {
	ArtifactID string `json:"artifact_id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	PartCount  int    `json:"part_count"`
}

// ErrorPayload is the payload of ERROR.
type ErrorPayload struct {
	ErrorType    string `json:"error_type"` // model|tool|system|business
	ErrorMessage string `json:"error_message"`
	Recoverable  bool   `json:"recoverable"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

// Preview truncates text to MessagePreviewLength runes for USER_MESSAGE
// payloads.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= MessagePreviewLength {
		return text
	}
	return string(runes[:MessagePreviewLength])
}
