package entities

const MethodSendMessage = "sendMessage"

// Reply is a Bot API method call returned in the body of a webhook response.
type Reply struct {
	Method                string `json:"method"`
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}
