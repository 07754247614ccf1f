package translation

import "sync"

// PopupState is a snapshot of the transient translation popup.
type PopupState struct {
	// Visible reports whether the popup is shown.
	Visible bool `json:"visible"`

	// Content is the translated text. It is the popup's only content.
	Content string `json:"content"`

	// Anchor identifies the element the translation belongs to, so the shell
	// can position the popup next to it.
	Anchor string `json:"anchor"`
}

// Popup holds the popup state. The latest shown translation replaces any
// earlier one. The zero value is a hidden popup; all methods are safe for
// concurrent use.
type Popup struct {
	mu       sync.Mutex
	state    PopupState
	onChange func(PopupState)
}

// OnChange registers fn to be called with the new state after every change.
// Passing nil removes the callback.
func (p *Popup) OnChange(fn func(PopupState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Show makes content the sole popup content, anchored at anchor.
func (p *Popup) Show(anchor, content string) {
	p.set(PopupState{Visible: true, Content: content, Anchor: anchor})
}

// Hide dismisses the popup and clears its content.
func (p *Popup) Hide() {
	p.set(PopupState{})
}

// Snapshot returns the current state.
func (p *Popup) Snapshot() PopupState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Popup) set(s PopupState) {
	p.mu.Lock()
	p.state = s
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
