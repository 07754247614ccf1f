package bridge

import "github.com/MrWong99/voxreader/internal/translation"

// Controller → shell operations.
const (
	opReady            = "ready"
	opRecognitionStart = "recognition.start"
	opRecognitionStop  = "recognition.stop"
	opSpeak            = "synthesis.speak"
	opCancel           = "synthesis.cancel"
	opScroll           = "scroll"
	opRender           = "render"
	opPopup            = "popup"
	opState            = "state"
	opError            = "error"
)

// Shell → controller events.
const (
	evRecognitionResult = "recognition.result"
	evRecognitionError  = "recognition.error"
	evRecognitionEnd    = "recognition.end"
	evSubmit            = "submit"
	evToggle            = "toggle"
	evLanguage          = "language"
	evActivate          = "activate"
	evPopupClose        = "popup.close"
)

type readyOp struct {
	Type      string   `json:"type"`
	Languages []string `json:"languages"`
	State     string   `json:"state"`
	Lang      string   `json:"lang"`
}

type recognitionStartOp struct {
	Type      string `json:"type"`
	Session   string `json:"session"`
	Lang      string `json:"lang"`
	FinalOnly bool   `json:"final_only"`
}

type recognitionStopOp struct {
	Type    string `json:"type"`
	Session string `json:"session"`
}

type speakOp struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type scrollOp struct {
	Type string `json:"type"`
	DY   int    `json:"dy"`
}

type renderOp struct {
	Type    string `json:"type"`
	HTML    string `json:"html"`
	Summary string `json:"summary"`
}

type popupOp struct {
	Type string `json:"type"`
	translation.PopupState
}

type stateOp struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Lang  string `json:"lang"`
}

type errorOp struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// simpleOp carries no payload (synthesis.cancel).
type simpleOp struct {
	Type string `json:"type"`
}

// event is the union of all shell events. Only the fields relevant to Type
// are set.
type event struct {
	Type string `json:"type"`

	// recognition.*
	Session      string        `json:"session,omitempty"`
	Transcript   string        `json:"transcript,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	Alternatives []alternative `json:"alternatives,omitempty"`
	Message      string        `json:"message,omitempty"`

	// submit
	URL string `json:"url,omitempty"`

	// language
	Code string `json:"code,omitempty"`

	// activate
	Control string `json:"control,omitempty"`
	Input   string `json:"input,omitempty"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}
