package bootstrap

import "fmt"

// ScriptLoader injects references to the remote library.
type ScriptLoader struct {
	doc     Document
	onError func()
}

// NewScriptLoader creates a loader that calls onError when the environment
// reports a failed fetch. A successful fetch calls nothing: finishing is
// then up to the loaded script.
func NewScriptLoader(doc Document, onError func()) *ScriptLoader {
	return &ScriptLoader{doc: doc, onError: onError}
}

// Load injects the async bootstrap script at src.
func (l *ScriptLoader) Load(src string) error {
	err := l.doc.InjectScript(ScriptElement{
		Src:           src,
		Type:          "text/javascript",
		FetchPriority: "high",
		OnError:       l.onError,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: load %s: %w", src, err)
	}
	return nil
}

// LoadSync injects the synchronous library. Its own blocking execution
// keeps the page from flickering, so no hide rule or deadline is involved.
func (l *ScriptLoader) LoadSync(cfg Config) error {
	src := cfg.SyncLibraryURL()
	err := l.doc.InjectScript(ScriptElement{
		ID:             SyncScriptID,
		Src:            src,
		Type:           "text/javascript",
		ReferrerPolicy: "no-referrer-when-downgrade",
	})
	if err != nil {
		return fmt.Errorf("bootstrap: load sync %s: %w", src, err)
	}
	return nil
}
