package bootstrap

import "errors"

// ErrAlreadyInitialized is returned by Controller.Init when another loader
// already ran on the same document. The first evaluation wins; callers
// normally ignore it.
var ErrAlreadyInitialized = errors.New("bootstrap: document already initialized")
