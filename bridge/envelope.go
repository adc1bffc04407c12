package bridge

// MessageType discriminates bridge messages by their "type" field.
type MessageType string

const (
	// Host -> plugin
	TypeInit           MessageType = "init"
	TypeThemeChange    MessageType = "theme-change"
	TypeLanguageChange MessageType = "language-change"
	TypeBridgeResponse MessageType = "bridge-response"

	// Plugin -> host
	TypeBridgeRequest MessageType = "bridge-request"
	TypeConfigUpdate  MessageType = "config-update"
	TypeEditorCancel  MessageType = "editor-cancel"
	TypeResize        MessageType = "resize"
)

// Wire field names shared by several message types.
const (
	FieldType         = "type"
	FieldPluginID     = "pluginId"
	FieldSessionNonce = "sessionNonce"
	FieldRequestID    = "requestId"
	FieldRequestNonce = "requestNonce"
	FieldNamespace    = "namespace"
	FieldAction       = "action"
	FieldParams       = "params"
	FieldConfig       = "config"
	FieldPersist      = "persist"
	FieldHeight       = "height"
	FieldResult       = "result"
	FieldError        = "error"
)

// Identity is the envelope every message carries for the active session.
type Identity struct {
	PluginID     string `json:"pluginId"`
	SessionNonce string `json:"sessionNonce"`
}

// MessageEvent is an inbound message as delivered by a transport.
type MessageEvent struct {
	Source Window // window the message came from
	Origin string // serialized sender origin
	Data   any    // decoded payload
}

// Request is a decoded bridge-request.
type Request struct {
	Identity
	RequestID    string
	RequestNonce string
	Namespace    string
	Action       string
	Params       any
}

// DecodeRequest extracts a bridge-request. ok is false unless every required
// field is a string.
func DecodeRequest(msg map[string]any) (req Request, ok bool) {
	fields := []struct {
		key string
		dst *string
	}{
		{FieldPluginID, &req.PluginID},
		{FieldSessionNonce, &req.SessionNonce},
		{FieldRequestNonce, &req.RequestNonce},
		{FieldRequestID, &req.RequestID},
		{FieldNamespace, &req.Namespace},
		{FieldAction, &req.Action},
	}
	for _, f := range fields {
		s, isString := msg[f.key].(string)
		if !isString {
			return Request{}, false
		}
		*f.dst = s
	}
	req.Params = msg[FieldParams]
	return req, true
}

// Response is a bridge-response. Exactly one of Result or Error is sent.
type Response struct {
	Identity
	RequestID    string
	RequestNonce string
	Result       any
	Error        *Error
}

// Message renders the response in wire form.
func (r Response) Message() map[string]any {
	msg := map[string]any{
		FieldType:         string(TypeBridgeResponse),
		FieldPluginID:     r.PluginID,
		FieldSessionNonce: r.SessionNonce,
		FieldRequestID:    r.RequestID,
		FieldRequestNonce: r.RequestNonce,
	}
	if r.Error != nil {
		msg[FieldError] = r.Error.Message()
	} else {
		msg[FieldResult] = r.Result
	}
	return msg
}

// Theme is the host theme snapshot forwarded to plugins.
type Theme struct {
	CSS     string
	ThemeID string
}

// Message renders the theme in wire form.
func (t Theme) Message() map[string]any {
	return map[string]any{
		"css": t.CSS,
		"tokens": map[string]any{
			"themeId": t.ThemeID,
		},
	}
}

// ResourceContext tells the plugin which card its resources belong to.
type ResourceContext struct {
	CardID   string `json:"cardId"`
	CardPath string `json:"cardPath"`
}

// InitPayload is the payload of the init message.
type InitPayload struct {
	Config            map[string]any
	Bridge            Identity
	Theme             Theme
	Resources         ResourceContext
	Locale            string
	VocabularyVersion string
	Vocabulary        map[string]string
	I18n              any
}

// InitMessage builds the init message.
func InitMessage(p InitPayload) map[string]any {
	return map[string]any{
		FieldType: string(TypeInit),
		"payload": map[string]any{
			"config":            p.Config,
			"bridge":            p.Bridge,
			"theme":             p.Theme.Message(),
			"resources":         p.Resources,
			"locale":            p.Locale,
			"vocabularyVersion": p.VocabularyVersion,
			"vocabulary":        p.Vocabulary,
			"i18n":              p.I18n,
		},
	}
}

// ThemeChangeMessage builds a theme-change broadcast.
func ThemeChangeMessage(id Identity, theme Theme) map[string]any {
	return map[string]any{
		FieldType:         string(TypeThemeChange),
		FieldPluginID:     id.PluginID,
		FieldSessionNonce: id.SessionNonce,
		"theme":           theme.Message(),
	}
}

// LanguageChangeMessage builds a language-change broadcast.
func LanguageChangeMessage(id Identity, locale, version string, vocabulary map[string]string, i18n any) map[string]any {
	return map[string]any{
		FieldType:           string(TypeLanguageChange),
		FieldPluginID:       id.PluginID,
		FieldSessionNonce:   id.SessionNonce,
		"locale":            locale,
		"vocabularyVersion": version,
		"vocabulary":        vocabulary,
		"i18n":              i18n,
	}
}

// TypeOf returns the string type of an inbound payload. ok is false when data
// is not an object or has no string type.
func TypeOf(data any) (msg map[string]any, typ MessageType, ok bool) {
	msg, isMap := data.(map[string]any)
	if !isMap || msg == nil {
		return nil, "", false
	}
	s, isString := msg[FieldType].(string)
	if !isString {
		return nil, "", false
	}
	return msg, MessageType(s), true
}
